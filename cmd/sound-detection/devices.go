package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petems/sound-detection/internal/audio"
	"github.com/petems/sound-detection/internal/audio/device"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices for the configured backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		source, err := device.New(cfg.Audio, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize audio")
			return err
		}
		defer source.Close()

		devices, err := source.ListDevices()
		if err != nil {
			return err
		}
		return printDevices(cmd.OutOrStdout(), devices, cfg.Audio.DeviceID)
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

// printDevices writes a table of devices, marking the selected one with *
// (the default device when selected is empty).
func printDevices(w io.Writer, devices []audio.Device, selected string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME")
	for _, d := range devices {
		mark := ""
		if d.ID == selected || (selected == "" && d.Default) {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", mark, d.ID, d.Name)
	}
	return tw.Flush()
}
