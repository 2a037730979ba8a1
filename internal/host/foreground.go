package host

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/dailycapture/internal/session"
)

const notifyTitle = "Daily Capture"

var notify = func(title, msg string) error { return beeep.Notify(title, msg, "") }

// Foreground shows the running session to the user. It keeps a status file
// that panels and scripts can watch, and raises a desktop notification when
// the session starts, pauses or resumes.
type Foreground struct {
	statusFile string
	notify     bool

	mu   sync.Mutex
	last session.Status
}

func NewForeground(statusFile string, notifications bool) *Foreground {
	return &Foreground{statusFile: statusFile, notify: notifications}
}

type statusDoc struct {
	ID        string `yaml:"id"`
	Status    string `yaml:"status"`
	Mode      string `yaml:"mode"`
	Path      string `yaml:"path"`
	StartedAt string `yaml:"started_at"`
	PID       int    `yaml:"pid"`
}

func (f *Foreground) Enter(info session.Info) {
	f.show(info)
}

func (f *Foreground) Update(info session.Info) {
	f.show(info)
}

// Leave removes every trace of the session.
func (f *Foreground) Leave() {
	f.mu.Lock()
	f.last = ""
	f.mu.Unlock()

	if f.statusFile == "" {
		return
	}
	if err := os.Remove(f.statusFile); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove status file", "path", f.statusFile, "error", err)
	}
}

func (f *Foreground) show(info session.Info) {
	f.mu.Lock()
	changed := f.last != info.Status
	f.last = info.Status
	f.mu.Unlock()

	if err := f.writeStatus(info); err != nil {
		slog.Warn("Failed to write status file", "path", f.statusFile, "error", err)
	}
	if !f.notify || !changed {
		return
	}
	if err := notify(notifyTitle, message(info)); err != nil {
		slog.Debug("Desktop notification failed", "error", err)
	}
}

func (f *Foreground) writeStatus(info session.Info) error {
	if f.statusFile == "" {
		return nil
	}
	doc := statusDoc{
		ID:     info.ID,
		Status: string(info.Status),
		Mode:   string(info.Mode),
		Path:   info.Path,
		PID:    os.Getpid(),
	}
	if !info.StartedAt.IsZero() {
		doc.StartedAt = info.StartedAt.Format(time.RFC3339)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.statusFile), 0o755); err != nil {
		return err
	}
	tmp := f.statusFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.statusFile)
}

func message(info session.Info) string {
	switch info.Status {
	case session.StatusPaused:
		return "Recording paused"
	case session.StatusRunning:
		return fmt.Sprintf("Recording to %s", filepath.Base(info.Path))
	default:
		return "Recording " + string(info.Status)
	}
}

// ReadStatus reads the status file written by a running daemon.
func ReadStatus(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse status file: %w", err)
	}
	return doc, nil
}
