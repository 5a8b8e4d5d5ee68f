// Package device provides the live microphone capture backends. It links
// the PortAudio and miniaudio cgo libraries; the rest of the pipeline only
// depends on package audio.
package device

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/petems/sound-detection/internal/audio"
	"github.com/petems/sound-detection/internal/config"
)

const (
	backendPortAudio = "portaudio"
	backendMalgo     = "malgo"
)

// New creates the capture source selected by cfg.Backend
func New(cfg config.AudioConfig, log zerolog.Logger) (audio.Source, error) {
	switch cfg.Backend {
	case "", backendPortAudio:
		return newPortAudio(cfg, log.With().Str("backend", backendPortAudio).Logger())
	case backendMalgo:
		return newMalgo(cfg, log.With().Str("backend", backendMalgo).Logger())
	default:
		return nil, configError(cfg.Backend, "select backend", fmt.Errorf("unknown backend %q", cfg.Backend))
	}
}

func configError(backend, op string, err error) error {
	return &audio.CaptureConfigurationError{Backend: backend, Op: op, Err: err}
}

var (
	_ audio.FailureReporter = (*portAudioSource)(nil)
	_ audio.FailureReporter = (*malgoSource)(nil)
	_ audio.DeviceSelector  = (*portAudioSource)(nil)
	_ audio.DeviceSelector  = (*malgoSource)(nil)
)
