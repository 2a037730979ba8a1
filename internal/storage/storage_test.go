package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeSettings struct {
	dest      string
	protected string
	managed   bool
	minFree   uint64
}

func (f fakeSettings) DestinationDir() string { return f.dest }
func (f fakeSettings) ProtectedDir() string   { return f.protected }
func (f fakeSettings) ManagedHandles() bool   { return f.managed }
func (f fakeSettings) MinFreeBytes() uint64   { return f.minFree }

var fixedNow = time.Date(2026, 5, 4, 6, 0, 7, 0, time.Local)

func TestResolve_ProtectedCreatesPrivateDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "private", "recordings")
	r := NewResolver(fakeSettings{protected: dir})

	target, err := r.Resolve(ModeProtected, "m4a", fixedNow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := filepath.Join(dir, "AutoRecord_2026_05_04_06_00_07.m4a")
	if target.Path != want {
		t.Errorf("Expected path %s, got %s", want, target.Path)
	}
	if target.Mode != ModeProtected {
		t.Errorf("Expected protected mode, got %s", target.Mode)
	}
	if !strings.HasPrefix(target.URI, "file://") {
		t.Errorf("Expected file URI, got %q", target.URI)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Expected directory to exist: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Errorf("Expected 0700 directory, got %v", info.Mode().Perm())
	}
}

func TestResolve_StandardPlainPath(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "Music")
	r := NewResolver(fakeSettings{dest: dest})

	target, err := r.Resolve(ModeStandard, "mp3", fixedNow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if target.Path != filepath.Join(dest, "2026_05_04_06_00_07.mp3") {
		t.Errorf("Unexpected path %s", target.Path)
	}
	if target.Handle != nil || target.URI != "" {
		t.Errorf("Expected no handle and no URI without managed handles, got %+v", target)
	}
}

func TestResolve_StandardManagedHandle(t *testing.T) {
	dest := t.TempDir()
	r := NewResolver(fakeSettings{dest: dest, managed: true})

	target, err := r.Resolve(ModeStandard, "wav", fixedNow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	defer target.Close()

	if target.Handle == nil {
		t.Fatal("Expected an open handle")
	}
	if target.URI == "" {
		t.Error("Expected a URI for a managed handle")
	}
	if _, err := target.Handle.Write([]byte("RIFF")); err != nil {
		t.Errorf("Expected writable handle: %v", err)
	}
}

func TestResolve_StandardRequiresDestination(t *testing.T) {
	r := NewResolver(fakeSettings{protected: t.TempDir()})

	_, err := r.Resolve(ModeStandard, "m4a", fixedNow)
	if !errors.Is(err, ErrNoDestination) {
		t.Errorf("Expected ErrNoDestination, got %v", err)
	}
}

func TestResolve_StandardInsufficientSpace(t *testing.T) {
	r := NewResolver(fakeSettings{dest: t.TempDir(), minFree: 1 << 20})
	r.freeSpace = func(string) (uint64, error) { return 1024, nil }

	_, err := r.Resolve(ModeStandard, "m4a", fixedNow)
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Errorf("Expected ErrInsufficientSpace, got %v", err)
	}
}

func TestResolve_StandardUnwritableDestination(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(fakeSettings{dest: filepath.Join(blocker, "sub")})

	if _, err := r.Resolve(ModeStandard, "m4a", fixedNow); err == nil {
		t.Error("Expected error when destination cannot be created")
	}
}

func TestResolve_AvoidsOverwritingExistingFile(t *testing.T) {
	dest := t.TempDir()
	existing := filepath.Join(dest, "2026_05_04_06_00_07.m4a")
	os.WriteFile(existing, []byte("keep"), 0644)

	r := NewResolver(fakeSettings{dest: dest})
	target, err := r.Resolve(ModeStandard, "m4a", fixedNow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if target.Path != filepath.Join(dest, "2026_05_04_06_00_07_1.m4a") {
		t.Errorf("Expected suffixed path, got %s", target.Path)
	}
}

func TestTarget_DiscardRemovesFile(t *testing.T) {
	r := NewResolver(fakeSettings{dest: t.TempDir(), managed: true})
	target, err := r.Resolve(ModeStandard, "m4a", fixedNow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if err := target.Discard(); err != nil {
		t.Errorf("Discard failed: %v", err)
	}
	if _, err := os.Stat(target.Path); !os.IsNotExist(err) {
		t.Errorf("Expected file removed, stat err=%v", err)
	}
	// A second discard of an already removed target is harmless.
	if err := target.Discard(); err != nil {
		t.Errorf("Second Discard failed: %v", err)
	}
}

func TestTarget_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.wav")
	target := &Target{Path: path}
	if !target.Empty() {
		t.Error("Expected missing file reported empty")
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !target.Empty() {
		t.Error("Expected zero-length file reported empty")
	}
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	if target.Empty() {
		t.Error("Expected written file reported non-empty")
	}
}

func TestMode_Alternate(t *testing.T) {
	if ModeStandard.Alternate() != ModeProtected {
		t.Error("Standard must fall back to Protected")
	}
	if ModeProtected.Alternate() != ModeStandard {
		t.Error("Protected alternate must be Standard")
	}
}
