package state

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/dailycapture/internal/config"

	"github.com/google/uuid"
)

// OpenFromConfig opens the configured store namespaced by this installation's id.
func OpenFromConfig(cfg *config.Config) (Store, func(), error) {
	ns, err := InstallationID(cfg.State.DataDir)
	if err != nil {
		return nil, nil, err
	}
	s, err := Open(cfg.State.DSN, cfg.State.DataDir, ns)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := s.Close(); err != nil {
			slog.Warn("Failed to close state store", "error", err)
		}
	}
	return s, cleanup, nil
}

// InstallationID returns the id stored in dataDir, creating one on first use.
func InstallationID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "installation-id")
	data, err := os.ReadFile(path)
	if err == nil {
		if id, perr := uuid.Parse(strings.TrimSpace(string(data))); perr == nil {
			return id.String(), nil
		}
		slog.Warn("Replacing malformed installation id", "path", path)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading installation id: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	id := uuid.NewString()
	if err := writeAtomic(path, []byte(id+"\n")); err != nil {
		return "", fmt.Errorf("writing installation id: %w", err)
	}
	slog.Info("Created installation id", "id", id)
	return id, nil
}
