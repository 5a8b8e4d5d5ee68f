// Package dsp holds the signal conditioning and spectral analysis used by the
// detector: mean removal, Hamming windowing, a real-input FFT and chunked
// spectrograms.
//
// Frames arrive as float32 from the capture backends and are widened to
// float64 at this boundary, since the FFT and vector helpers operate on
// float64.
package dsp

import (
	"errors"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrDegenerateInput is returned for signals or chunks too short to analyse.
var ErrDegenerateInput = errors.New("dsp: degenerate input")

// Float64s widens a block of samples.
func Float64s(samples []float32) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}
	return out
}

// RemoveMean returns a copy of signal with its arithmetic mean subtracted.
func RemoveMean(signal []float64) ([]float64, error) {
	if len(signal) == 0 {
		return nil, ErrDegenerateInput
	}
	out := make([]float64, len(signal))
	copy(out, signal)
	floats.AddConst(-stat.Mean(signal, nil), out)
	return out, nil
}

// ApplyWindow returns signal multiplied by a symmetric Hamming window of the
// same length.
func ApplyWindow(signal []float64) ([]float64, error) {
	if len(signal) == 0 {
		return nil, ErrDegenerateInput
	}
	out := make([]float64, len(signal))
	copy(out, signal)
	floats.Mul(out, hamming(len(out)))
	return out, nil
}

func hamming(n int) []float64 {
	if n == 1 {
		return []float64{1}
	}
	return window.Hamming(n)
}
