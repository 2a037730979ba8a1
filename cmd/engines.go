package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/dailycapture/internal/audio"
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List output formats and the recorder engine used for each",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		engines := audio.SupportedEngines()
		exts := make([]string, 0, len(engines))
		for ext := range engines {
			exts = append(exts, ext)
		}
		slices.Sort(exts)

		for _, ext := range exts {
			marker := " "
			if ext == cfg.Output.Extension {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %-5s %s\n", marker, ext, engines[ext])
		}

		if path, ok := audio.FFmpegAvailable(); ok {
			fmt.Fprintf(out, "\nffmpeg: %s\n", path)
		} else {
			fmt.Fprintln(out, "\nffmpeg: not found in PATH (both engines need it for capture)")
		}
		return nil
	},
}
