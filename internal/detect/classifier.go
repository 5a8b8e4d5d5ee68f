// Package detect turns one audio frame into the blow and whistle flags.
//
// Blow is a broadband loudness rule on the raw frame. Whistle is a narrowband
// rule on the location of the strongest bin in each chunk of the frame's
// spectrogram. Both rules are fixed and stateless across frames, except that
// a frame whose chunks all fail to produce a peak leaves the whistle flag
// where it was.
package detect

import (
	"math"

	"github.com/petems/sound-detection/internal/dsp"
	"gonum.org/v1/gonum/floats"
)

const (
	// BlowThreshold is the RMS above which a frame counts as blowing.
	BlowThreshold = 0.3
	// ChunkSize is the spectrogram chunk length in samples.
	ChunkSize = 2048 * 8
	// WhistleBinLow and WhistleBinHigh are exclusive bounds on the peak bin.
	WhistleBinLow  = 110
	WhistleBinHigh = 130
)

// Result is the outcome of classifying one frame.
type Result struct {
	Blowing   bool
	Whistling bool
	RMS       float64
	// PeakBins holds the peak bin of each chunk, -1 where a chunk had none.
	PeakBins []int
}

// RMS returns the root-mean-square amplitude of samples, 0 when empty.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(samples, samples) / float64(len(samples)))
}

// IsBlow applies the blow threshold.
func IsBlow(rms float64) bool {
	return rms > BlowThreshold
}

// PeakBin returns the index of the first maximum of s.
func PeakBin(s dsp.Spectrum) (int, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return floats.MaxIdx(s), true
}

// IsWhistleBin reports whether bin lies strictly inside the whistle band.
func IsWhistleBin(bin int) bool {
	return bin > WhistleBinLow && bin < WhistleBinHigh
}

// Classifier evaluates both rules for a frame.
type Classifier struct {
	chunkSize int
}

func NewClassifier() *Classifier {
	return &Classifier{chunkSize: ChunkSize}
}

// Classify evaluates samples. whistling is the currently published whistle
// flag; chunks are evaluated in time order and each one with a peak
// overwrites the running value, so the last such chunk decides the result.
func (c *Classifier) Classify(samples []float64, whistling bool) (Result, error) {
	if len(samples) == 0 {
		return Result{}, dsp.ErrDegenerateInput
	}

	rms := RMS(samples)
	res := Result{
		Blowing:   IsBlow(rms),
		Whistling: whistling,
		RMS:       rms,
	}

	spectra, err := dsp.Build(samples, c.chunkSize)
	if err != nil {
		return Result{}, err
	}

	res.PeakBins = make([]int, len(spectra))
	for i, s := range spectra {
		bin, ok := PeakBin(s)
		if !ok {
			res.PeakBins[i] = -1
			continue
		}
		res.PeakBins[i] = bin
		res.Whistling = IsWhistleBin(bin)
	}
	return res, nil
}
