package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/dailycapture/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long:  `List the capture devices of the configured input format (pulse or alsa) that can be set as audio.device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := audio.ListSources(cfg.Audio.InputFormat)
		if err != nil {
			return fmt.Errorf("failed to get %s sources: %w", cfg.Audio.InputFormat, err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s sources (%d found):\n", cfg.Audio.InputFormat, len(sources))
		for i, source := range sources {
			marker := " "
			if source.Name == cfg.Audio.Device {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %d. %s", marker, i+1, source.Name)
			if source.Description != "" {
				fmt.Fprintf(out, "  (%s)", source.Description)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}
