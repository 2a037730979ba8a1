// Package host adapts the desktop session the daemon runs in: lock state,
// boot detection, and the foreground indicator shown while recording.
package host

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/host"
)

// IndicatorProbe derives the lock state from marker files a screen locker or
// login hook maintains. A present lock file means locked. When an unlock file
// is configured, the session counts as unlocked only while it exists. With
// neither configured the session is always unlocked.
type IndicatorProbe struct {
	LockFile   string
	UnlockFile string
}

func (p IndicatorProbe) Unlocked() bool {
	if p.LockFile != "" && exists(p.LockFile) {
		return false
	}
	if p.UnlockFile != "" {
		return exists(p.UnlockFile)
	}
	return true
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type RestartKind string

const (
	RestartBoot    RestartKind = "boot"
	RestartProcess RestartKind = "process"
)

var uptime = host.Uptime

// ClassifyRestart reports a boot when the host has been up for less than grace.
func ClassifyRestart(up, grace time.Duration) RestartKind {
	if up < grace {
		return RestartBoot
	}
	return RestartProcess
}

// DetectRestart classifies the current process start. An unreadable uptime
// counts as a process restart.
func DetectRestart(grace time.Duration) (RestartKind, time.Duration) {
	secs, err := uptime()
	if err != nil {
		slog.Debug("Failed to read host uptime", "error", err)
		return RestartProcess, 0
	}
	up := time.Duration(secs) * time.Second
	return ClassifyRestart(up, grace), up
}

// BootTime returns when the host booted.
func BootTime() (time.Time, error) {
	secs, err := host.BootTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read boot time: %w", err)
	}
	return time.Unix(int64(secs), 0), nil
}
