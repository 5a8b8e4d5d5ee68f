package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petems/sound-detection/internal/audio"
	"github.com/petems/sound-detection/internal/config"
	"github.com/petems/sound-detection/internal/detect"
	"github.com/petems/sound-detection/internal/dsp"
	"github.com/petems/sound-detection/internal/observe"
	"github.com/petems/sound-detection/internal/state"
	"github.com/rs/zerolog"
)

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetMonitoring()
	SetError()
}

type Config struct {
	Source  audio.Source
	State   *state.Monitor   // Optional - a fresh monitor is created when nil
	Metrics *observe.Metrics // Optional - defaults to no-op instruments
	Config  *config.Config   // Optional - receives device changes
	// ConfigPath is where device changes are saved; empty disables saving.
	ConfigPath    string
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
	// QueueDepth > 0 processes frames on a separate goroutine behind a
	// bounded queue instead of on the capture goroutine.
	QueueDepth int
}

// App connects a frame source to the detection pipeline and publishes the
// results on a state.Monitor.
type App struct {
	source     audio.Source
	monitor    *state.Monitor
	classifier *detect.Classifier
	metrics    *observe.Metrics
	cfg        *config.Config
	cfgPath    string
	log        zerolog.Logger
	status     StatusUpdater
	queueDepth int

	mu         sync.Mutex
	monitoring bool
	cancel     context.CancelFunc
	queue      *Queue
}

func New(cfg Config) *App {
	monitor := cfg.State
	if monitor == nil {
		monitor = state.New()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.Nop()
	}
	a := &App{
		source:     cfg.Source,
		monitor:    monitor,
		classifier: detect.NewClassifier(),
		metrics:    metrics,
		cfg:        cfg.Config,
		cfgPath:    cfg.ConfigPath,
		log:        cfg.Logger,
		status:     cfg.StatusUpdater,
		queueDepth: cfg.QueueDepth,
	}
	if r, ok := cfg.Source.(audio.FailureReporter); ok {
		r.OnFailure(a.captureFailed)
	}
	return a
}

// Start begins monitoring. Calling it while monitoring is a no-op. A
// *audio.CaptureConfigurationError means capture could not be set up and no
// frames will be delivered; the app stays idle and Start may be retried.
//
// Capture outlives ctx's cancellation; use Stop to end it.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.monitoring {
		return nil
	}

	dsp.Prepare(detect.ChunkSize)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	handler := audio.FrameHandler(a.OnFrame)
	var queue *Queue
	if a.queueDepth > 0 {
		queue = NewQueue(a.queueDepth, a.process, func() {
			a.metrics.FramesDropped.Add(context.Background(), 1)
		})
		queue.Start()
		handler = queue.Enqueue
	}

	if err := a.source.Start(runCtx, handler); err != nil {
		cancel()
		if queue != nil {
			queue.Close()
		}
		var cfgErr *audio.CaptureConfigurationError
		if errors.As(err, &cfgErr) {
			a.log.Error().Err(err).Str("backend", cfgErr.Backend).Msg("Monitoring not started")
		} else {
			a.log.Error().Err(err).Msg("Monitoring not started")
		}
		if a.status != nil {
			a.status.SetError()
		}
		return err
	}

	a.monitoring = true
	a.cancel = cancel
	a.queue = queue
	a.metrics.Monitoring.Add(context.Background(), 1)

	a.log.Info().Int("queue_depth", a.queueDepth).Msg("Monitoring started")
	if a.status != nil {
		a.status.SetMonitoring()
	}
	return nil
}

// Stop halts monitoring. When it returns no further frame is processed. It
// is safe to call when not monitoring and always returns nil; the published
// flags keep their last values.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.monitoring {
		return nil
	}

	if err := a.source.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to stop capture cleanly")
	}
	a.cancel()
	if a.queue != nil {
		a.queue.Close()
		a.queue = nil
	}

	a.monitoring = false
	a.cancel = nil
	a.metrics.Monitoring.Add(context.Background(), -1)

	a.log.Info().Msg("Monitoring stopped")
	if a.status != nil {
		a.status.SetIdle()
	}
	return nil
}

// captureFailed handles capture ending on its own: monitoring stops and the
// status shows the error. The published flags keep their last values.
func (a *App) captureFailed(err error) {
	if !a.IsMonitoring() {
		return
	}
	a.log.Error().Err(err).Msg("Capture failed, monitoring stopped")
	_ = a.Stop()
	if a.status != nil {
		a.status.SetError()
	}
}

// OnFrame is the ingestion entry point, called once per captured block. It
// never panics and never returns an error: frames that cannot be analysed
// are skipped and the previous flags are kept.
func (a *App) OnFrame(samples []float32, sampleRate float64) {
	a.process(audio.NewFrame(samples, sampleRate))
}

func (a *App) process(frame audio.Frame) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Int("samples", len(frame.Samples)).Msg("Frame processing panicked, skipping")
			a.metrics.FramesSkipped.Add(ctx, 1)
		}
	}()

	began := time.Now()
	prev := a.monitor.Snapshot()

	res, err := a.classifier.Classify(frame.Float64s(), prev.Whistling)
	if err != nil {
		if errors.Is(err, dsp.ErrDegenerateInput) {
			a.log.Debug().Int("samples", len(frame.Samples)).Msg("Skipping degenerate frame")
		} else {
			a.log.Warn().Err(err).Msg("Skipping frame")
		}
		a.metrics.FramesSkipped.Add(ctx, 1)
		return
	}

	next := a.monitor.Apply(res.Blowing, res.Whistling, frame)

	if next.Blowing && !prev.Blowing {
		a.metrics.RecordDetection(ctx, observe.EventBlow)
	}
	if next.Whistling && !prev.Whistling {
		a.metrics.RecordDetection(ctx, observe.EventWhistle)
	}
	if next.Blowing != prev.Blowing || next.Whistling != prev.Whistling {
		a.log.Debug().
			Bool("blowing", next.Blowing).
			Bool("whistling", next.Whistling).
			Float64("rms", res.RMS).
			Ints("peak_bins", res.PeakBins).
			Msg("Detection changed")
	}
	a.metrics.RecordFrame(ctx, time.Since(began))
}

// Shutdown stops monitoring and releases the source.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.Stop(); err != nil {
		return err
	}
	return a.source.Close()
}

// Tray actions

func (a *App) IsMonitoring() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.monitoring
}

// State returns the monitor the app publishes to.
func (a *App) State() *state.Monitor {
	return a.monitor
}

func (a *App) ListDevices() ([]audio.Device, error) {
	return a.source.ListDevices()
}

// SetDevice selects the input device for the next Start.
func (a *App) SetDevice(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.monitoring {
		return fmt.Errorf("cannot change device while monitoring")
	}

	if sel, ok := a.source.(audio.DeviceSelector); ok {
		sel.SelectDevice(id)
	}
	if a.cfg == nil {
		return nil
	}
	a.cfg.Audio.DeviceID = id
	if a.cfgPath == "" {
		return nil
	}
	return a.cfg.Save(a.cfgPath)
}
