package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/dailycapture/internal/config"
)

var (
	provider     *config.Provider
	cfg          *config.Config
	cfgFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "dailycapture",
	Short: "Unattended daily audio recorder",
	Long: `DailyCapture records audio every day at a fixed local time without anyone
at the keyboard.

The daemon arms a wall-clock trigger (06:00 by default), catches up a
recording that was missed while the machine was off, and exposes a small
HTTP API to pause, stop or cancel the running session.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		if cfgFile == "" {
			cfgFile = os.ExpandEnv("$HOME/.config/dailycapture.yaml")
		}

		var err error
		provider, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = provider.Current()
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/dailycapture.yaml)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg output, 3=max tracing")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(enginesCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(infoCmd)
}

// setupLogging configures slog based on the verbose level. Interactive runs
// get the text handler; under a service manager output is JSON.
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	var handler slog.Handler
	if term.IsTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	if level >= 3 {
		os.Setenv("FFMPEG_LOGLEVEL", "debug")
	}
}

// engineLog is where ffmpeg's own output goes.
func engineLog() io.Writer {
	if verboseLevel >= 2 {
		return os.Stderr
	}
	return nil
}
