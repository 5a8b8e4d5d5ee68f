package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/petems/sound-detection/internal/app"
	"github.com/petems/sound-detection/internal/audio"
	"github.com/petems/sound-detection/internal/detect"
	"github.com/petems/sound-detection/internal/dsp"
)

var realtime bool

var replayCmd = &cobra.Command{
	Use:   "replay FILE.wav",
	Short: "Run detection over a WAV file",
	Long: `Feed a PCM WAV file through the detection pipeline block by block and
print every change of the blow and whistle flags.

Only the first channel is used. Blocks are audio.frames_per_buffer samples.

Examples:
  sound-detection replay whistle.wav
  sound-detection replay --realtime recording.wav`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&realtime, "realtime", false, "pace blocks at the file's sample rate")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src := audio.NewWAVSource(args[0], cfg.Audio.FramesPerBuffer, realtime)
	sum, err := replay(ctx, cmd.OutOrStdout(), src, log)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d frames, %.2fs: blowing in %d, whistling in %d\n",
		sum.Frames, sum.Seconds, sum.BlowFrames, sum.WhistleFrames)
	return nil
}

type replaySummary struct {
	Frames        int
	Seconds       float64
	BlowFrames    int
	WhistleFrames int
}

// replay drives src through the app's ingestion path and writes one line
// per flag change to w. It returns when the source is exhausted or ctx is
// cancelled.
func replay(ctx context.Context, w io.Writer, src *audio.WAVSource, log zerolog.Logger) (replaySummary, error) {
	application := app.New(app.Config{Source: src, Logger: log})
	monitor := application.State()
	dsp.Prepare(detect.ChunkSize)

	var sum replaySummary
	var blowing, whistling bool

	handle := func(samples []float32, sampleRate float64) {
		application.OnFrame(samples, sampleRate)

		s := monitor.Snapshot()
		if s.Blowing {
			sum.BlowFrames++
		}
		if s.Whistling {
			sum.WhistleFrames++
		}
		if s.Blowing != blowing || s.Whistling != whistling {
			fmt.Fprintf(w, "frame %d at %.3fs: blowing=%t whistling=%t\n", sum.Frames, sum.Seconds, s.Blowing, s.Whistling)
			blowing, whistling = s.Blowing, s.Whistling
		}

		sum.Frames++
		sum.Seconds += float64(len(samples)) / sampleRate
	}

	if err := src.Start(ctx, handle); err != nil {
		return sum, err
	}
	defer src.Close()

	select {
	case <-src.Done():
	case <-ctx.Done():
	}
	if err := src.Stop(); err != nil {
		return sum, err
	}
	return sum, ctx.Err()
}
