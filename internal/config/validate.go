package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Validate checks a decoded configuration and reports the first problem found.
func Validate(cfg *Config) error {
	if err := validateOutput(cfg.Output); err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}
	if strings.TrimSpace(cfg.Protected.Directory) == "" {
		return fmt.Errorf("invalid protected: 'directory' is required")
	}
	if err := validateSchedule(cfg.Schedule); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	if cfg.Record.MaxDuration < 0 {
		return fmt.Errorf("invalid record: 'max_duration' must not be negative")
	}
	if err := validateAudio(cfg.Audio); err != nil {
		return fmt.Errorf("invalid audio: %w", err)
	}
	if cfg.State.DSN == "" && strings.TrimSpace(cfg.State.DataDir) == "" {
		return fmt.Errorf("invalid state: 'data_dir' is required when no dsn is set")
	}
	return nil
}

func validateOutput(out OutputConfig) error {
	if out.Extension == "" {
		return fmt.Errorf("'extension' is required")
	}
	if !slices.Contains(SupportedExtensions, out.Extension) {
		return fmt.Errorf("unsupported extension '%s' (supported: %s)", out.Extension, strings.Join(SupportedExtensions, ", "))
	}
	if out.MinFreeMB < 0 {
		return fmt.Errorf("'min_free_mb' must not be negative")
	}
	return nil
}

func validateSchedule(s ScheduleConfig) error {
	if _, err := time.Parse("15:04", s.Time); err != nil {
		return fmt.Errorf("'time' must be HH:MM, got '%s'", s.Time)
	}
	if s.InexactWindow <= 0 {
		return fmt.Errorf("'inexact_window' must be positive")
	}
	if s.ExactRecheck <= 0 {
		return fmt.Errorf("'exact_recheck' must be positive")
	}
	return nil
}

func validateAudio(a AudioConfig) error {
	if a.InputFormat == "" {
		return fmt.Errorf("'input_format' is required")
	}
	if a.SampleRate <= 0 {
		return fmt.Errorf("'sample_rate' must be positive")
	}
	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("'channels' must be 1 or 2, got %d", a.Channels)
	}
	return nil
}
