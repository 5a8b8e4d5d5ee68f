package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/petems/sound-detection/internal/config"
	"github.com/petems/sound-detection/internal/logging"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sound-detection",
	Short: "Detect blowing and whistling on the microphone",
	Long: `Listens to the microphone and publishes two flags per captured block:
blowing (broadband loudness) and whistling (a narrow spectral peak).

The flags are shown in the system tray and served over HTTP/WebSocket.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, viper.GetViper())
	},
}

// Execute runs the root command and prints any error.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = fmt.Sprintf("%s (%s)", Version, Commit)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is "+config.Path()+")")
	rootCmd.PersistentFlags().String("log-level", "info",
		"log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "portaudio",
		"capture backend (portaudio, malgo)")
	rootCmd.PersistentFlags().String("device", "",
		"input device ID or name (default device when empty)")

	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("audio.backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("audio.device_id", rootCmd.PersistentFlags().Lookup("device"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(config.Dir())
		viper.AddConfigPath("./configs")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "warning: reading config: %v\n", err)
		}
	}
}

// bindFlags binds each command-local flag to the viper key of the same name
// so config files and SOUND_DETECTION_* variables can set it.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var errs []error

	cmd.LocalNonPersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !f.Changed && v.IsSet(key) {
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", v.Get(key))); err != nil {
				errs = append(errs, err)
			}
		}
	})

	return errors.Join(errs...)
}

// loadConfig decodes the effective configuration and builds the logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		log := logging.New()
		log.Error().Err(err).Msg("Failed to load config")
		return nil, log, err
	}
	return cfg, logging.NewWithLevel(cfg.LogLevel), nil
}

// configPath is where config changes are written.
func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	if configFile != "" {
		return configFile
	}
	return config.Path()
}
