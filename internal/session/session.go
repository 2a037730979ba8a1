package session

import (
	"context"
	"time"

	"github.com/audiolibrelab/dailycapture/internal/audio"
	"github.com/audiolibrelab/dailycapture/internal/event"
	"github.com/audiolibrelab/dailycapture/internal/storage"
)

// Status represents the state of the recording session
type Status string

const (
	StatusStopped Status = "STOPPED"
	StatusRunning Status = "RUNNING"
	StatusPaused  Status = "PAUSED"
)

const (
	durationInterval  = time.Second
	amplitudeInterval = 75 * time.Millisecond
)

// Info is a snapshot of the session as observers see it.
type Info struct {
	ID        string       `json:"id,omitempty"`
	Status    Status       `json:"status"`
	Duration  int64        `json:"duration"`
	Mode      storage.Mode `json:"mode,omitempty"`
	Path      string       `json:"path,omitempty"`
	StartedAt time.Time    `json:"started_at,omitempty"`
}

// Resolver prepares the output target of a new session.
type Resolver interface {
	Resolve(mode storage.Mode, ext string, now time.Time) (*storage.Target, error)
}

// EngineFactory builds a fresh engine for the configured extension.
type EngineFactory func(ext string) (audio.Engine, error)

// LockProbe reports whether the host is unlocked, i.e. Standard storage is usable.
type LockProbe interface {
	Unlocked() bool
}

// MarkWriter persists the start time of the last successful recording.
type MarkWriter interface {
	SetLastRecordDate(ctx context.Context, t time.Time) error
}

// Indexer registers a finished recording and returns its canonical reference.
type Indexer interface {
	Scan(ctx context.Context, path string) (string, error)
}

// Foreground keeps the host aware that a recording is in progress.
type Foreground interface {
	Enter(info Info)
	Update(info Info)
	Leave()
}

type Publisher interface {
	Publish(e event.Event)
}

// Settings is the part of the configuration read at session start.
type Settings interface {
	Extension() string
	MaxDuration() time.Duration
}

// Ticker is a periodic task owned by the active session.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

// recording is the single live session. It is only touched by the owner loop.
type recording struct {
	id        string
	status    Status
	duration  int64
	mode      storage.Mode
	target    *storage.Target
	engine    audio.Engine
	startedAt time.Time
	limit     time.Duration // max duration captured at start, 0 for none

	durationTicker  Ticker
	amplitudeTicker Ticker
}

func (r *recording) info() Info {
	return Info{
		ID:        r.id,
		Status:    r.status,
		Duration:  r.duration,
		Mode:      r.mode,
		Path:      r.target.Path,
		StartedAt: r.startedAt,
	}
}

func (r *recording) stopTickers() {
	if r.durationTicker != nil {
		r.durationTicker.Stop()
		r.durationTicker = nil
	}
	if r.amplitudeTicker != nil {
		r.amplitudeTicker.Stop()
		r.amplitudeTicker = nil
	}
}

type noopForeground struct{}

func (noopForeground) Enter(Info)  {}
func (noopForeground) Update(Info) {}
func (noopForeground) Leave()      {}

type openUnlocked struct{}

func (openUnlocked) Unlocked() bool { return true }
