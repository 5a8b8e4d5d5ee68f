package dsp

import (
	"math/bits"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// TransformLength returns the number of leading samples Transform uses for an
// input of length n: the largest power of two not greater than n, or 0.
func TransformLength(n int) int {
	if n < 1 {
		return 0
	}
	return 1 << (bits.Len(uint(n)) - 1)
}

// plans holds one pool of FFT plans per transform length. A plan carries
// its own work buffers, so each caller takes one out of the pool.
var plans sync.Map

func planPool(n int) *sync.Pool {
	if p, ok := plans.Load(n); ok {
		return p.(*sync.Pool)
	}
	p, _ := plans.LoadOrStore(n, &sync.Pool{
		New: func() any { return fourier.NewFFT(n) },
	})
	return p.(*sync.Pool)
}

// Prepare precomputes the FFT plan for inputs of length n.
// Safe to call repeatedly.
func Prepare(n int) {
	if l := TransformLength(n); l > 0 {
		pool := planPool(l)
		pool.Put(pool.Get())
	}
}

// Transform computes the forward DFT of the first TransformLength(len(signal))
// samples and returns its real and imaginary parts. Trailing samples beyond
// that length are ignored, for every chunk including a short final one.
//
// The transform runs on the calling goroutine.
func Transform(signal []float64) (re, im []float64, err error) {
	n := TransformLength(len(signal))
	if n == 0 {
		return nil, nil, ErrDegenerateInput
	}

	pool := planPool(n)
	plan := pool.Get().(*fourier.FFT)
	coeff := plan.Coefficients(nil, signal[:n])
	pool.Put(plan)

	re = make([]float64, n)
	im = make([]float64, n)
	for i, c := range coeff {
		re[i] = real(c)
		im[i] = imag(c)
	}
	// Upper half from conjugate symmetry.
	for i := len(coeff); i < n; i++ {
		re[i] = re[n-i]
		im[i] = -im[n-i]
	}
	return re, im, nil
}

// MagnitudeSquared squares values elementwise.
func MagnitudeSquared(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	floats.Mul(out, values)
	return out
}

// Normalize scales values by 2*n, where n is the transform length they came
// from, so chunks of equal size compare on the same scale.
func Normalize(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	floats.Scale(float64(2*n), out)
	return out
}

// Rescale maps values linearly onto [0, 1] using their min and max. A flat
// input maps to all zeros.
func Rescale(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := floats.Min(values), floats.Max(values)
	if hi == lo {
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}
