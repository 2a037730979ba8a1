package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/dailycapture/internal/app"
	"github.com/audiolibrelab/dailycapture/internal/catchup"
	"github.com/audiolibrelab/dailycapture/internal/host"
	"github.com/audiolibrelab/dailycapture/internal/schedule"
	"github.com/audiolibrelab/dailycapture/internal/state"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect the daily trigger",
}

var scheduleFrom string

var scheduleNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show when the next daily recording starts",
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := schedule.ParseTimeOfDay(cfg.Schedule.Time)
		if err != nil {
			return err
		}
		now := time.Now()
		if scheduleFrom != "" {
			if now, err = time.ParseInLocation("2006-01-02 15:04", scheduleFrom, time.Local); err != nil {
				return fmt.Errorf("invalid --from (want \"YYYY-MM-DD HH:MM\"): %w", err)
			}
		}
		next := schedule.NextTrigger(now, at)
		fmt.Fprintf(cmd.OutOrStdout(), "%s (in %s)\n", next.Format(time.RFC3339), next.Sub(now).Round(time.Second))
		return nil
	},
}

var scheduleStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recording, the armed trigger and any running session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := state.OpenFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("failed to open state: %w", err)
		}
		defer closeStore()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		now := time.Now()

		fmt.Fprintf(out, "trigger_time: %s\n", cfg.Schedule.Time)
		last, err := store.LastRecordDate(ctx)
		if err != nil {
			return fmt.Errorf("failed to read last record date: %w", err)
		}
		fmt.Fprintf(out, "last_record: %s\n", formatMark(last))
		fmt.Fprintf(out, "recorded_today: %t\n", catchup.HasRecordedToday(last, now))

		next, err := store.NextTrigger(ctx)
		if err != nil {
			return fmt.Errorf("failed to read next trigger: %w", err)
		}
		fmt.Fprintf(out, "armed_trigger: %s\n", formatMark(next))

		if boot, err := host.BootTime(); err == nil {
			fmt.Fprintf(out, "host_boot: %s\n", boot.Format(time.RFC3339))
		}

		if doc, err := host.ReadStatus(app.StatusFile(cfg)); err == nil {
			fmt.Fprintf(out, "session: %v %v (%v)\n", doc["status"], doc["path"], doc["mode"])
		} else {
			fmt.Fprintln(out, "session: none")
		}
		return nil
	},
}

func formatMark(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}

func init() {
	scheduleNextCmd.Flags().StringVar(&scheduleFrom, "from", "", "compute from this local time instead of now (YYYY-MM-DD HH:MM)")
	scheduleCmd.AddCommand(scheduleNextCmd)
	scheduleCmd.AddCommand(scheduleStatusCmd)
}
