// Package storage decides where a recording is written.
//
// Protected mode writes into an application-private directory that is usable
// while the host is locked. Standard mode writes into the user's configured
// destination and may hand the engine an already opened file handle.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
)

// Mode is the storage strategy of one recording session.
type Mode string

const (
	ModeProtected Mode = "protected"
	ModeStandard  Mode = "standard"
)

// Alternate returns the mode a failed start retries with.
func (m Mode) Alternate() Mode {
	if m == ModeStandard {
		return ModeProtected
	}
	return ModeStandard
}

const stampLayout = "2006_01_02_15_04_05"

var (
	ErrNoDestination     = errors.New("no destination folder configured")
	ErrInsufficientSpace = errors.New("insufficient free space at destination")
)

// Target is the output of one session: a path, optionally an open handle the
// engine writes through, and the reference published once the file is saved.
type Target struct {
	Path   string
	Handle *os.File
	URI    string
	Mode   Mode
}

// Close releases the handle, if any. The file stays on disk.
func (t *Target) Close() error {
	if t == nil || t.Handle == nil {
		return nil
	}
	err := t.Handle.Close()
	t.Handle = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// Empty reports whether nothing was written to the target's path.
func (t *Target) Empty() bool {
	if t == nil {
		return true
	}
	info, err := os.Stat(t.Path)
	return err != nil || info.Size() == 0
}

// Discard closes the target and deletes whatever was written so far.
func (t *Target) Discard() error {
	if t == nil {
		return nil
	}
	closeErr := t.Close()
	if err := os.Remove(t.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", t.Path, err)
	}
	return closeErr
}

// Settings is the part of the configuration the resolver reads.
type Settings interface {
	DestinationDir() string
	ProtectedDir() string
	ManagedHandles() bool
	MinFreeBytes() uint64
}

type Resolver struct {
	settings  Settings
	freeSpace func(path string) (uint64, error)
}

func NewResolver(settings Settings) *Resolver {
	return &Resolver{settings: settings, freeSpace: diskFree}
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Resolve prepares a fresh output target for ext in the given mode.
func (r *Resolver) Resolve(mode Mode, ext string, now time.Time) (*Target, error) {
	switch mode {
	case ModeProtected:
		return r.resolveProtected(ext, now)
	case ModeStandard:
		return r.resolveStandard(ext, now)
	default:
		return nil, fmt.Errorf("unknown storage mode %q", mode)
	}
}

func (r *Resolver) resolveProtected(ext string, now time.Time) (*Target, error) {
	dir := r.settings.ProtectedDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create protected directory: %w", err)
	}

	path := uniquePath(dir, BaseName(ModeProtected, now), ext)
	slog.Debug("Resolved protected target", "path", path)
	return &Target{Path: path, URI: fileURI(path), Mode: ModeProtected}, nil
}

func (r *Resolver) resolveStandard(ext string, now time.Time) (*Target, error) {
	dir := r.settings.DestinationDir()
	if dir == "" {
		return nil, ErrNoDestination
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	if required := r.settings.MinFreeBytes(); required > 0 {
		free, err := r.freeSpace(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to query free space: %w", err)
		}
		if free < required {
			return nil, fmt.Errorf("%w: %d bytes free, %d required", ErrInsufficientSpace, free, required)
		}
	}

	path := uniquePath(dir, BaseName(ModeStandard, now), ext)
	target := &Target{Path: path, Mode: ModeStandard}

	if r.settings.ManagedHandles() {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open output handle: %w", err)
		}
		target.Handle = f
		target.URI = fileURI(path)
	}

	slog.Debug("Resolved standard target", "path", path, "managed_handle", target.Handle != nil)
	return target, nil
}

// BaseName is the file name, without extension, of a recording started at now.
func BaseName(mode Mode, now time.Time) string {
	if mode == ModeProtected {
		return "AutoRecord_" + now.Format(stampLayout)
	}
	return now.Format(stampLayout)
}

// uniquePath returns dir/base.ext, adding _1, _2 ... when a file already exists.
func uniquePath(dir, base, ext string) string {
	path := filepath.Join(dir, base+"."+ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.%s", base, i, ext))
	}
}

func fileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String()
}
