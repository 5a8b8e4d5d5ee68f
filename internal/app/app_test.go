package app

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/petems/sound-detection/internal/audio"
	"github.com/petems/sound-detection/internal/config"
	"github.com/petems/sound-detection/internal/detect"
	"github.com/rs/zerolog"
)

// mockSource delivers frames synchronously through emit.
type mockSource struct {
	mu       sync.Mutex
	handler  audio.FrameHandler
	startErr error
	starts   int
	stops    int
	device   string
	closed   bool
	onFail   func(error)
}

func (m *mockSource) Start(ctx context.Context, handle audio.FrameHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if m.startErr != nil {
		return m.startErr
	}
	m.handler = handle
	return nil
}

func (m *mockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.handler = nil
	return nil
}

func (m *mockSource) ListDevices() ([]audio.Device, error) {
	return []audio.Device{{ID: "default", Name: "Default", Default: true}}, nil
}

func (m *mockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSource) SelectDevice(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = id
}

func (m *mockSource) OnFailure(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFail = fn
}

// fail ends capture the way a backend does when its stream breaks.
func (m *mockSource) fail(err error) {
	m.mu.Lock()
	fn := m.onFail
	m.mu.Unlock()
	fn(err)
}

// emit reports whether a handler was installed.
func (m *mockSource) emit(samples []float32) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(samples, 48000)
	return true
}

type mockStatus struct {
	mu   sync.Mutex
	last string
}

func (m *mockStatus) set(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = s
}

func (m *mockStatus) SetIdle()       { m.set("idle") }
func (m *mockStatus) SetMonitoring() { m.set("monitoring") }
func (m *mockStatus) SetError()      { m.set("error") }

func (m *mockStatus) get() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func loudFrame(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 0.6
		} else {
			out[i] = -0.6
		}
	}
	return out
}

func whistleFrame() []float32 {
	out := make([]float32, detect.ChunkSize)
	for i := range out {
		out[i] = float32(0.2 * math.Cos(2*math.Pi*120*float64(i)/detect.ChunkSize))
	}
	return out
}

func newTestApp(src *mockSource, status StatusUpdater) *App {
	return New(Config{
		Source:        src,
		Logger:        zerolog.Nop(),
		StatusUpdater: status,
	})
}

func TestStartStop(t *testing.T) {
	src := &mockSource{}
	status := &mockStatus{}
	app := newTestApp(src, status)

	if app.IsMonitoring() {
		t.Error("App should not be monitoring initially")
	}

	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !app.IsMonitoring() || status.get() != "monitoring" {
		t.Error("App should be monitoring after Start")
	}

	// Second Start is a no-op.
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if src.starts != 1 {
		t.Errorf("expected source started once, got %d", src.starts)
	}

	if err := app.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if app.IsMonitoring() || status.get() != "idle" {
		t.Error("App should be idle after Stop")
	}
}

func TestStopTwiceKeepsFlags(t *testing.T) {
	src := &mockSource{}
	app := newTestApp(src, nil)

	if err := app.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.emit(loudFrame(1024))
	if !app.State().IsBlowing() {
		t.Fatal("expected blowing after loud frame")
	}

	if err := app.Stop(); err != nil {
		t.Errorf("first Stop: %v", err)
	}
	if err := app.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if src.stops != 1 {
		t.Errorf("expected source stopped once, got %d", src.stops)
	}
	if !app.State().IsBlowing() {
		t.Error("expected flags to keep their last published values")
	}
	if src.emit(loudFrame(8)) {
		t.Error("expected no delivery after Stop")
	}
}

func TestStopWhenNotStarted(t *testing.T) {
	src := &mockSource{}
	app := newTestApp(src, nil)
	if err := app.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
	if src.stops != 0 {
		t.Error("source should not be stopped when it never started")
	}
}

func TestRestart(t *testing.T) {
	src := &mockSource{}
	app := newTestApp(src, nil)

	for i := 0; i < 3; i++ {
		if err := app.Start(context.Background()); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
		if !src.emit(loudFrame(256)) {
			t.Fatalf("Start #%d: expected handler installed", i)
		}
		if err := app.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}
	if got := len(app.State().Snapshot().History); got != 3 {
		t.Errorf("expected 3 frames in history, got %d", got)
	}
}

func TestCaptureConfigurationErrorIsSurfaced(t *testing.T) {
	cause := errors.New("sample rate not supported")
	src := &mockSource{startErr: &audio.CaptureConfigurationError{Backend: "portaudio", Op: "open stream", Err: cause}}
	status := &mockStatus{}
	app := newTestApp(src, status)

	err := app.Start(context.Background())
	var cfgErr *audio.CaptureConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected CaptureConfigurationError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be preserved")
	}
	if app.IsMonitoring() {
		t.Error("App should not be monitoring after a failed Start")
	}
	if status.get() != "error" {
		t.Errorf("expected error status, got %q", status.get())
	}

	src.startErr = nil
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	if !app.IsMonitoring() {
		t.Error("expected retry to succeed")
	}
}

func TestCaptureFailureStopsMonitoring(t *testing.T) {
	src := &mockSource{}
	status := &mockStatus{}
	a := newTestApp(src, status)

	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.emit(loudFrame(1024))
	if !a.State().IsBlowing() {
		t.Fatal("expected blowing after a loud frame")
	}

	src.fail(errors.New("stream read: device unplugged"))

	if a.IsMonitoring() {
		t.Error("expected monitoring to stop after a capture failure")
	}
	if got := status.get(); got != "error" {
		t.Errorf("expected error status, got %q", got)
	}
	if src.stops != 1 {
		t.Errorf("expected the source to be stopped once, got %d", src.stops)
	}
	if !a.State().IsBlowing() {
		t.Error("expected flags to keep their last values")
	}

	// A late report after Stop changes nothing.
	status.SetIdle()
	src.fail(errors.New("late"))
	if got := status.get(); got != "idle" {
		t.Errorf("expected idle status to be kept, got %q", got)
	}
}

func TestStartOutlivesCallerContext(t *testing.T) {
	src := &mockSource{}
	app := newTestApp(src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if !app.IsMonitoring() {
		t.Error("cancelling the Start context should not stop monitoring")
	}
}

func TestDegenerateFrameIsSkipped(t *testing.T) {
	src := &mockSource{}
	app := newTestApp(src, nil)
	if err := app.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	src.emit(loudFrame(512))
	before := app.State().Snapshot()

	src.emit(nil)
	src.emit([]float32{})

	after := app.State().Snapshot()
	if after.Seq != before.Seq {
		t.Errorf("expected no publish for empty frames, seq %d -> %d", before.Seq, after.Seq)
	}
	if !after.Blowing {
		t.Error("expected flags retained across skipped frames")
	}

	src.emit(make([]float32, 512))
	if app.State().IsBlowing() {
		t.Error("expected processing to resume after skipped frames")
	}
}

func TestWhistleFrame(t *testing.T) {
	src := &mockSource{}
	app := newTestApp(src, nil)
	if err := app.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	src.emit(whistleFrame())
	s := app.State().Snapshot()
	if !s.Whistling || s.Blowing {
		t.Errorf("expected whistling only, got %+v", s)
	}

	// A short frame peaks in the DC bin and clears the flag.
	src.emit(make([]float32, 1024))
	if app.State().IsWhistling() {
		t.Error("expected whistle cleared by a silent frame")
	}
}

func TestOnFrameCopiesSamples(t *testing.T) {
	src := &mockSource{}
	app := newTestApp(src, nil)
	if err := app.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	buf := loudFrame(16)
	src.emit(buf)
	buf[0] = 42

	if got := app.State().Snapshot().History[0].Samples[0]; got == 42 {
		t.Error("history should not alias the capture buffer")
	}
}

func TestQueuedProcessingKeepsOrder(t *testing.T) {
	src := &mockSource{}
	app := New(Config{
		Source:     src,
		Logger:     zerolog.Nop(),
		QueueDepth: 64,
	})
	if err := app.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 40; i++ {
		src.emit([]float32{float32(i), 0})
	}

	deadline := time.Now().Add(2 * time.Second)
	for app.State().Snapshot().Seq < 40 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out, processed %d frames", app.State().Snapshot().Seq)
		}
		time.Sleep(time.Millisecond)
	}
	if err := app.Stop(); err != nil {
		t.Fatal(err)
	}

	h := app.State().Snapshot().History
	for i, f := range h {
		if want := float32(i + 11); f.Samples[0] != want {
			t.Errorf("history[%d]: expected frame %v, got %v", i, want, f.Samples[0])
		}
	}
}

func TestSetDevice(t *testing.T) {
	src := &mockSource{}
	cfg := config.Default()
	path := filepath.Join(t.TempDir(), "config.yaml")
	app := New(Config{
		Source:     src,
		Config:     cfg,
		ConfigPath: path,
		Logger:     zerolog.Nop(),
	})

	if err := app.SetDevice("USB Mic"); err != nil {
		t.Fatalf("SetDevice: %v", err)
	}
	if src.device != "USB Mic" || cfg.Audio.DeviceID != "USB Mic" {
		t.Errorf("device not applied: source %q, config %q", src.device, cfg.Audio.DeviceID)
	}

	if err := app.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := app.SetDevice("Other"); err == nil {
		t.Error("expected error changing device while monitoring")
	}
}

func TestShutdownClosesSource(t *testing.T) {
	src := &mockSource{}
	app := newTestApp(src, nil)
	if err := app.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if app.IsMonitoring() || !src.closed {
		t.Error("expected monitoring stopped and source closed")
	}
}
