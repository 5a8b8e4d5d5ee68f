package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/petems/sound-detection/internal/app"
	"github.com/petems/sound-detection/internal/audio/device"
	"github.com/petems/sound-detection/internal/observe"
	"github.com/petems/sound-detection/internal/server"
	"github.com/petems/sound-detection/internal/state"
	"github.com/petems/sound-detection/internal/tray"
)

var (
	headless bool
	noServer bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Monitor the microphone",
	Long: `Monitor the microphone and publish blow and whistle detection.

By default a tray icon is shown and monitoring is started from its menu or
via POST /api/monitor/start. With --headless monitoring starts immediately
and flag changes are logged.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&headless, "headless", false, "no tray; start monitoring immediately")
	runCmd.Flags().BoolVar(&noServer, "no-server", false, "disable the HTTP/WebSocket server")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observe.Nop()
	var metricsHandler http.Handler
	if cfg.Server.Metrics {
		provider, err := observe.InitProvider(observe.ProviderConfig{ServiceVersion: Version})
		if err != nil {
			return err
		}
		defer provider.Shutdown(context.Background())
		if metrics, err = observe.NewMetrics(provider.MeterProvider); err != nil {
			return err
		}
		metricsHandler = provider.Handler
	}

	source, err := device.New(cfg.Audio, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize audio")
		return err
	}

	useTray := cfg.Tray.Enabled && !headless

	var trayUI *tray.UI
	var status app.StatusUpdater
	if useTray {
		trayUI = tray.New(nil, cfg, log, Version, Commit) // App reference set below
		status = trayUI
	}

	application := app.New(app.Config{
		Source:        source,
		Metrics:       metrics,
		Config:        cfg,
		ConfigPath:    configPath(),
		Logger:        log,
		StatusUpdater: status,
		QueueDepth:    cfg.Audio.QueueDepth,
	})
	if trayUI != nil {
		trayUI.SetApp(application)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled && !noServer {
		srv := server.New(application, metricsHandler, log)
		g.Go(func() error {
			return srv.Serve(gctx, cfg.Server.Addr)
		})
	}

	log.Info().Str("version", Version).Str("backend", cfg.Audio.Backend).Bool("headless", !useTray).Msg("Sound detection starting...")

	if useTray {
		// Tray UI - MUST run on main thread
		if err := trayUI.Run(gctx); err != nil {
			log.Error().Err(err).Msg("Tray error")
		}
	} else {
		if err := application.Start(gctx); err != nil {
			stop()
			_ = g.Wait()
			_ = application.Shutdown(context.Background())
			return err
		}
		g.Go(func() error {
			logTransitions(gctx, application.State(), log)
			return nil
		})
		<-gctx.Done()
	}

	log.Info().Msg("Shutting down...")
	stop()
	if err := application.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	return g.Wait()
}

// logTransitions logs every change of either flag until ctx is done.
func logTransitions(ctx context.Context, monitor *state.Monitor, log zerolog.Logger) {
	updates, unsubscribe := monitor.Subscribe()
	defer unsubscribe()

	var last state.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-updates:
			if s.Blowing == last.Blowing && s.Whistling == last.Whistling {
				continue
			}
			log.Info().Bool("blowing", s.Blowing).Bool("whistling", s.Whistling).Uint64("seq", s.Seq).Msg("Detection changed")
			last = s
		}
	}
}
