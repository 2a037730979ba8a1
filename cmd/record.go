package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/dailycapture/internal/app"
)

var recordDuration time.Duration

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record once, now",
	Long: `Start a recording immediately with the same storage rules as the daily
trigger, and stop it on Ctrl+C or after --duration.

Exits non-zero when the recording could not be started in either storage mode.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rec, cleanup, err := app.NewRecorder(provider, engineLog())
		if err != nil {
			return fmt.Errorf("failed to create recorder: %w", err)
		}
		defer cleanup()

		if recordDuration > 0 {
			slog.Info("Recording started", "duration", recordDuration)
		} else {
			slog.Info("Recording started - Press Ctrl+C to stop")
		}

		res, err := rec.Record(ctx, recordDuration)
		if err != nil {
			return fmt.Errorf("recording failed: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "path: %s\n", res.Info.Path)
		fmt.Fprintf(out, "mode: %s\n", res.Info.Mode)
		fmt.Fprintf(out, "duration: %s\n", time.Duration(res.Info.Duration)*time.Second)
		if res.Ref != "" {
			fmt.Fprintf(out, "ref: %s\n", res.Ref)
		}
		return nil
	},
}

func init() {
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "stop after this long (default: until interrupted)")
}
