package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const backendWAV = "wav"

// WAVSource replays a PCM WAV file through the same handler path as live
// capture. Only the first channel is delivered.
type WAVSource struct {
	path            string
	framesPerBuffer int
	realtime        bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWAVSource creates a replay source. With realtime set, blocks are paced
// at the file's sample rate.
func NewWAVSource(path string, framesPerBuffer int, realtime bool) *WAVSource {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	return &WAVSource{
		path:            path,
		framesPerBuffer: framesPerBuffer,
		realtime:        realtime,
	}
}

func (w *WAVSource) Start(ctx context.Context, handle FrameHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return nil
	}

	f, err := os.Open(w.path)
	if err != nil {
		return configError(backendWAV, "open", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return configError(backendWAV, "decode header", fmt.Errorf("%s: not a valid WAV file", w.path))
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		f.Close()
		return configError(backendWAV, "decode header", fmt.Errorf("%s: missing format information", w.path))
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.replay(ctx, f, dec, handle, w.done)
	return nil
}

func (w *WAVSource) replay(ctx context.Context, f *os.File, dec *wav.Decoder, handle FrameHandler, done chan struct{}) {
	defer close(done)
	defer f.Close()

	channels := int(dec.NumChans)
	sampleRate := float64(dec.SampleRate)
	scale, offset := pcmScale(int(dec.BitDepth))

	buf := &goaudio.IntBuffer{
		Data:   make([]int, w.framesPerBuffer*channels),
		Format: dec.Format(),
	}

	var ticker *time.Ticker
	if w.realtime {
		interval := time.Duration(float64(time.Second) * float64(w.framesPerBuffer) / sampleRate)
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		n, err := dec.PCMBuffer(buf)
		if n == 0 || (err != nil && !errors.Is(err, io.EOF)) {
			return
		}

		frames := n / channels
		samples := make([]float32, frames)
		for i := range samples {
			samples[i] = float32(float64(buf.Data[i*channels]-offset) / scale)
		}
		handle(samples, sampleRate)
	}
}

// pcmScale returns the divisor and offset that map integer PCM of the given
// depth onto [-1, 1]. 8-bit WAV is unsigned.
func pcmScale(bitDepth int) (float64, int) {
	switch {
	case bitDepth <= 0:
		return 1 << 15, 0
	case bitDepth == 8:
		return 1 << 7, 1 << 7
	default:
		return float64(int64(1) << (bitDepth - 1)), 0
	}
}

// Done is closed once the file has been fully delivered or the source was
// stopped. It returns nil before Start.
func (w *WAVSource) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *WAVSource) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return nil
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	return nil
}

func (w *WAVSource) ListDevices() ([]Device, error) {
	return []Device{{ID: w.path, Name: filepath.Base(w.path), Default: true}}, nil
}

func (w *WAVSource) Close() error {
	return w.Stop()
}
