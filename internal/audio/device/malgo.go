package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/petems/sound-detection/internal/audio"
	"github.com/petems/sound-detection/internal/config"
	"github.com/petems/sound-detection/internal/permissions"
)

// errDeviceStopped reports that miniaudio stopped the device without Stop
// being called.
var errDeviceStopped = errors.New("capture device stopped")

// malgoSource captures through miniaudio. The device data callback runs on
// miniaudio's capture thread and drives the pipeline directly.
type malgoSource struct {
	sampleRate      int
	framesPerBuffer int
	log             zerolog.Logger

	mu        sync.Mutex
	deviceID  string
	ctx       *malgo.AllocatedContext
	device    *malgo.Device
	cancel    context.CancelFunc
	stopping  *atomic.Bool
	onFailure func(error)
}

func newMalgo(cfg config.AudioConfig, log zerolog.Logger) (audio.Source, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, configError(backendMalgo, "init context", err)
	}
	return &malgoSource{
		sampleRate:      cfg.SampleRate,
		framesPerBuffer: cfg.FramesPerBuffer,
		deviceID:        cfg.DeviceID,
		ctx:             ctx,
		log:             log,
	}, nil
}

func (m *malgoSource) OnFailure(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailure = fn
}

func (m *malgoSource) SelectDevice(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceID = id
}

func (m *malgoSource) Start(ctx context.Context, handle audio.FrameHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return nil
	}

	if err := permissions.CheckMicrophone(); err != nil {
		return configError(backendMalgo, "microphone permission", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(m.framesPerBuffer)
	deviceConfig.Alsa.NoMMap = 1

	if m.deviceID != "" {
		infos, err := m.ctx.Devices(malgo.Capture)
		if err != nil {
			return configError(backendMalgo, "enumerate devices", err)
		}
		found := false
		for _, info := range infos {
			if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(m.deviceID)) {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return configError(backendMalgo, "find device", fmt.Errorf("device not found: %s", m.deviceID))
		}
	}

	var rate float64
	onRecvFrames := func(_, pInputSamples []byte, framecount uint32) {
		if len(pInputSamples) == 0 || framecount == 0 {
			return
		}
		samples := unsafe.Slice((*float32)(unsafe.Pointer(&pInputSamples[0])), int(framecount))
		handle(samples, rate)
	}

	// The stop callback runs on miniaudio's thread, which must not block on
	// Stop, so the failure is reported from a fresh goroutine.
	stopping := new(atomic.Bool)
	notify := m.onFailure
	onStop := func() {
		if stopping.Load() {
			return
		}
		m.log.Warn().Err(errDeviceStopped).Msg("Capture device stopped, no more frames will be delivered")
		if notify != nil {
			go notify(errDeviceStopped)
		}
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
		Stop: onStop,
	})
	if err != nil {
		return configError(backendMalgo, "init device", err)
	}
	rate = float64(device.SampleRate())

	if err := device.Start(); err != nil {
		stopping.Store(true)
		device.Uninit()
		return configError(backendMalgo, "start device", err)
	}
	m.device = device
	m.stopping = stopping

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go func() {
		<-ctx.Done()
		_ = m.Stop()
	}()

	return nil
}

// Stop uninitialises the device; miniaudio waits for an in-flight data
// callback before returning.
func (m *malgoSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return nil
	}
	m.stopping.Store(true)
	m.device.Uninit()
	m.device = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return nil
}

func (m *malgoSource) ListDevices() ([]audio.Device, error) {
	infos, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	result := make([]audio.Device, 0, len(infos))
	for _, info := range infos {
		result = append(result, audio.Device{
			ID:      info.Name(),
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return result, nil
}

func (m *malgoSource) Close() error {
	err := m.Stop()
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
	return err
}
