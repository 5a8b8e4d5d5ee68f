package dsp

// Spectrum is the folded power spectrum of one chunk: bins 0..n/2 inclusive
// for a transform of length n. A nil Spectrum marks a chunk that could not be
// analysed.
type Spectrum []float64

// Spectrogram is the sequence of chunk spectra of one frame, in time order.
type Spectrogram []Spectrum

// Chunks splits signal into contiguous pieces of size samples. The last piece
// is shorter when len(signal) is not a multiple of size. The pieces alias
// signal.
func Chunks(signal []float64, size int) [][]float64 {
	if size <= 0 {
		size = len(signal)
	}
	if len(signal) == 0 {
		return nil
	}
	out := make([][]float64, 0, (len(signal)+size-1)/size)
	for start := 0; start < len(signal); start += size {
		end := min(start+size, len(signal))
		out = append(out, signal[start:end])
	}
	return out
}

// AnalyzeChunk transforms one windowed chunk and returns the normalized square
// of the real component over the folded half of the spectrum.
func AnalyzeChunk(chunk []float64) (Spectrum, error) {
	re, _, err := Transform(chunk)
	if err != nil {
		return nil, err
	}
	n := len(re)
	half := re[:n/2+1]
	return Normalize(MagnitudeSquared(half), n), nil
}

// Build windows signal, splits it into chunkSize pieces and analyses each one.
//
// The window is applied to the raw signal, not to its mean-removed copy, so
// any DC offset in the frame lands in bin 0 of every chunk.
func Build(signal []float64, chunkSize int) (Spectrogram, error) {
	// No RemoveMean: the offset stays in the spectrum.
	windowed, err := ApplyWindow(signal)
	if err != nil {
		return nil, err
	}

	chunks := Chunks(windowed, chunkSize)
	out := make(Spectrogram, 0, len(chunks))
	for _, c := range chunks {
		s, err := AnalyzeChunk(c)
		if err != nil {
			out = append(out, nil)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
