package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/dailycapture/internal/audio"
	"github.com/audiolibrelab/dailycapture/internal/storage"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and the file paths a recording would use now",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		now := time.Now()
		ext := cfg.Output.Extension

		engine, err := audio.DetermineEngine(ext)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "=== FILE PATHS ===\n")
		fmt.Fprintf(out, "standard: %s\n", filepath.Join(cfg.Output.Directory, storage.BaseName(storage.ModeStandard, now)+"."+ext))
		fmt.Fprintf(out, "protected: %s\n", filepath.Join(cfg.Protected.Directory, storage.BaseName(storage.ModeProtected, now)+"."+ext))

		fmt.Fprintf(out, "\n=== RESOLVED CONFIGURATION ===\n")
		fmt.Fprintf(out, "\n[Output]\n")
		fmt.Fprintf(out, "extension: %s (%s engine)\n", ext, engine)
		fmt.Fprintf(out, "managed_handles: %t\n", cfg.Output.ManagedHandles)
		fmt.Fprintf(out, "min_free_mb: %d\n", cfg.Output.MinFreeMB)

		fmt.Fprintf(out, "\n[Audio]\n")
		fmt.Fprintf(out, "input: %s %s\n", cfg.Audio.InputFormat, cfg.Audio.Device)
		fmt.Fprintf(out, "sample_rate: %d\n", cfg.Audio.SampleRate)
		fmt.Fprintf(out, "channels: %d\n", cfg.Audio.Channels)

		fmt.Fprintf(out, "\n[Schedule]\n")
		fmt.Fprintf(out, "time: %s\n", cfg.Schedule.Time)
		fmt.Fprintf(out, "exact: %t\n", cfg.Schedule.Exact)
		if cfg.Record.MaxDuration > 0 {
			fmt.Fprintf(out, "max_duration: %s\n", cfg.Record.MaxDuration)
		}

		fmt.Fprintf(out, "\n[State]\n")
		dsn := cfg.State.DSN
		if dsn == "" {
			dsn = filepath.Join(cfg.State.DataDir, "marks.yaml")
		}
		fmt.Fprintf(out, "marks: %s\n", dsn)
		return nil
	},
}
