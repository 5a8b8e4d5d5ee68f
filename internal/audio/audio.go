package audio

import (
	"context"

	"github.com/petems/sound-detection/internal/dsp"
)

// Frame is one captured block of mono samples in [-1, 1].
type Frame struct {
	Samples    []float32
	SampleRate float64
}

// NewFrame copies samples into a Frame the pipeline can retain.
func NewFrame(samples []float32, sampleRate float64) Frame {
	s := make([]float32, len(samples))
	copy(s, samples)
	return Frame{Samples: s, SampleRate: sampleRate}
}

// Float64s returns the samples widened for analysis.
func (f Frame) Float64s() []float64 {
	return dsp.Float64s(f.Samples)
}

// FrameHandler receives each captured block on the capture goroutine. The
// samples slice is only valid for the duration of the call.
type FrameHandler func(samples []float32, sampleRate float64)

// Source defines the interface for frame delivery
type Source interface {
	// Start begins calling handle once per captured block. It returns a
	// *CaptureConfigurationError when the device or stream cannot be set up.
	Start(ctx context.Context, handle FrameHandler) error
	// Stop halts delivery; no call to the handler happens after it returns.
	Stop() error
	ListDevices() ([]Device, error)
	Close() error
}

// FailureReporter is implemented by sources whose capture can end by itself
// after a successful Start, for example when the device goes away. The
// callback runs at most once per Start and may be called from any goroutine.
type FailureReporter interface {
	OnFailure(func(err error))
}

// DeviceSelector is implemented by sources that can switch input device
// between runs.
type DeviceSelector interface {
	SelectDevice(id string)
}

// Device represents an audio input device
type Device struct {
	ID      string
	Name    string
	Default bool
}
