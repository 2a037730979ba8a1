package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/dailycapture/internal/app"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the daily recording daemon",
	Long: `Run the daemon: arm the daily trigger, start a catch-up recording if
today's was missed, and serve the control API.

SIGINT or SIGTERM stops and saves an active recording before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, cleanup, err := app.NewDaemon(provider, engineLog())
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}
		defer cleanup()

		slog.Info("DailyCapture daemon starting",
			"config", provider.File(),
			"trigger", cfg.Schedule.Time,
			"listen", cfg.Server.Listen,
			"extension", cfg.Output.Extension)

		if err := d.Run(ctx); err != nil {
			return fmt.Errorf("daemon failed: %w", err)
		}
		return nil
	},
}
