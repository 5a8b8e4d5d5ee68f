package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/petems/sound-detection/internal/audio"
	"github.com/petems/sound-detection/internal/config"
	"github.com/petems/sound-detection/internal/permissions"
)

type portAudioSource struct {
	sampleRate      float64
	framesPerBuffer int
	log             zerolog.Logger

	mu        sync.Mutex
	deviceID  string
	stream    *portaudio.Stream
	cancel    context.CancelFunc
	done      chan struct{}
	onFailure func(error)
}

func newPortAudio(cfg config.AudioConfig, log zerolog.Logger) (audio.Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, configError(backendPortAudio, "initialize", err)
	}
	return &portAudioSource{
		sampleRate:      float64(cfg.SampleRate),
		framesPerBuffer: cfg.FramesPerBuffer,
		deviceID:        cfg.DeviceID,
		log:             log,
	}, nil
}

func (p *portAudioSource) OnFailure(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailure = fn
}

func (p *portAudioSource) SelectDevice(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deviceID = id
}

func (p *portAudioSource) Start(ctx context.Context, handle audio.FrameHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return nil
	}

	if err := permissions.CheckMicrophone(); err != nil {
		return configError(backendPortAudio, "microphone permission", err)
	}

	device, err := p.findDevice()
	if err != nil {
		return err
	}

	// Open stream: mono, configured sample rate, float32
	buffer := make([]float32, p.framesPerBuffer)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      p.sampleRate,
		FramesPerBuffer: len(buffer),
	}, buffer)
	if err != nil {
		return configError(backendPortAudio, "open stream", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return configError(backendPortAudio, "start stream", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.stream = stream
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.readLoop(ctx, stream, buffer, handle, p.done)
	return nil
}

func (p *portAudioSource) findDevice() (*portaudio.DeviceInfo, error) {
	if p.deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, configError(backendPortAudio, "default input device", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, configError(backendPortAudio, "enumerate devices", err)
	}
	for _, d := range devices {
		if d.Name == p.deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, configError(backendPortAudio, "find device", fmt.Errorf("device not found: %s", p.deviceID))
}

// readLoop is the capture goroutine: every block is handed to the pipeline
// before the next Read. Overflows are dropped; any other read error ends
// capture and is reported.
func (p *portAudioSource) readLoop(ctx context.Context, stream *portaudio.Stream, buffer []float32, handle audio.FrameHandler, done chan struct{}) {
	err := audio.ReadBlocks(ctx, stream.Read, func(err error) bool {
		return errors.Is(err, portaudio.InputOverflowed)
	}, func() {
		handle(buffer, p.sampleRate)
	})
	close(done)
	if err == nil {
		return
	}

	p.log.Warn().Err(err).Msg("Capture read failed, no more frames will be delivered")
	p.mu.Lock()
	notify := p.onFailure
	p.mu.Unlock()
	if notify != nil {
		notify(err)
	}
}

func (p *portAudioSource) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}

	p.cancel()
	err := p.stream.Stop()
	<-p.done
	if cerr := p.stream.Close(); err == nil {
		err = cerr
	}
	p.stream = nil
	p.cancel = nil
	p.done = nil
	return err
}

func (p *portAudioSource) ListDevices() ([]audio.Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]audio.Device, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, audio.Device{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (p *portAudioSource) Close() error {
	err := p.Stop()
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}
