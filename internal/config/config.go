package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to environment overrides, e.g.
// SOUND_DETECTION_AUDIO_BACKEND=malgo.
const EnvPrefix = "SOUND_DETECTION"

type Config struct {
	LogLevel string       `mapstructure:"log_level" yaml:"log_level"`
	Audio    AudioConfig  `mapstructure:"audio" yaml:"audio"`
	Server   ServerConfig `mapstructure:"server" yaml:"server"`
	Tray     TrayConfig   `mapstructure:"tray" yaml:"tray"`
}

type AudioConfig struct {
	Backend         string `mapstructure:"backend" yaml:"backend"` // "portaudio" or "malgo"
	DeviceID        string `mapstructure:"device_id" yaml:"device_id"`
	SampleRate      int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	FramesPerBuffer int    `mapstructure:"frames_per_buffer" yaml:"frames_per_buffer"`
	// QueueDepth > 0 moves processing off the capture thread onto a bounded queue.
	QueueDepth int `mapstructure:"queue_depth" yaml:"queue_depth"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
	Metrics bool   `mapstructure:"metrics" yaml:"metrics"`
}

type TrayConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("audio.backend", "portaudio")
	v.SetDefault("audio.device_id", "")
	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.frames_per_buffer", 1024)
	v.SetDefault("audio.queue_depth", 0)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", "127.0.0.1:8737")
	v.SetDefault("server.metrics", true)

	v.SetDefault("tray.enabled", true)
}

// Default returns the configuration used when no file or override is present.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, _ := Load(v)
	return cfg
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level %q is invalid", c.LogLevel))
	}
	switch c.Audio.Backend {
	case "portaudio", "malgo":
	default:
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: portaudio, malgo", c.Audio.Backend))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer must be positive, got %d", c.Audio.FramesPerBuffer))
	}
	if c.Audio.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_depth must not be negative, got %d", c.Audio.QueueDepth))
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required when the server is enabled"))
	}

	return errors.Join(errs...)
}

// Save writes the config to path as YAML
func (c *Config) Save(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Path returns the platform-specific config file path
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Dir returns the platform-specific config directory
func Dir() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "sound-detection")
}
