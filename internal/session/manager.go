// Package session owns the one recording session the daemon may run at a time.
//
// Every command is delivered to a single owner goroutine (Manager.Run), which
// also receives the duration and amplitude ticks of the active session. No
// other goroutine touches the session, so "start only when stopped" needs no
// lock beyond the request channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/dailycapture/internal/event"
	"github.com/audiolibrelab/dailycapture/internal/storage"

	"github.com/google/uuid"
)

var (
	// ErrNotRecording is returned by TogglePause when no session is active.
	ErrNotRecording = errors.New("no recording in progress")
	// ErrClosed is returned once the owner loop has exited.
	ErrClosed = errors.New("session manager closed")
	// ErrStartFailed wraps the last error when both storage modes failed.
	ErrStartFailed = errors.New("failed to start recording")
)

// indexTimeout bounds the asynchronous media scan after a stop.
const indexTimeout = 30 * time.Second

type command int

const (
	cmdStart command = iota
	cmdTogglePause
	cmdCancel
	cmdStop
	cmdQueryInfo
	cmdStopAmplitude
)

func (c command) String() string {
	return [...]string{"start", "toggle-pause", "cancel", "stop", "query-info", "stop-amplitude"}[c]
}

type request struct {
	ctx   context.Context
	cmd   command
	reply chan result
}

type result struct {
	info Info
	err  error
}

type Manager struct {
	resolver  Resolver
	newEngine EngineFactory
	settings  Settings
	marks     MarkWriter
	publisher Publisher

	lock       LockProbe
	indexer    Indexer
	foreground Foreground
	newTicker  func(time.Duration) Ticker
	now        func() time.Time
	terminate  func(error)

	requests chan request
	done     chan struct{}
	running  sync.Once
	indexing sync.WaitGroup

	// active is owned by the Run goroutine.
	active *recording
}

type Option func(*Manager)

func WithLockProbe(p LockProbe) Option      { return func(m *Manager) { m.lock = p } }
func WithIndexer(i Indexer) Option          { return func(m *Manager) { m.indexer = i } }
func WithForeground(f Foreground) Option    { return func(m *Manager) { m.foreground = f } }
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }
func WithTickers(f func(time.Duration) Ticker) Option {
	return func(m *Manager) { m.newTicker = f }
}

// WithTerminate sets the hook called when a start fails in every storage mode.
func WithTerminate(f func(error)) Option { return func(m *Manager) { m.terminate = f } }

func NewManager(resolver Resolver, newEngine EngineFactory, settings Settings, marks MarkWriter, publisher Publisher, opts ...Option) *Manager {
	m := &Manager{
		resolver:   resolver,
		newEngine:  newEngine,
		settings:   settings,
		marks:      marks,
		publisher:  publisher,
		lock:       openUnlocked{},
		foreground: noopForeground{},
		newTicker:  newRealTicker,
		now:        time.Now,
		requests:   make(chan request),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run is the session owner loop. It returns when ctx is done, after stopping
// (and saving) any active recording.
func (m *Manager) Run(ctx context.Context) error {
	started := false
	m.running.Do(func() { started = true })
	if !started {
		return errors.New("session manager already running")
	}
	defer close(m.done)

	for {
		var durationC, amplitudeC <-chan time.Time
		var engineDone <-chan struct{}
		if r := m.active; r != nil {
			engineDone = r.engine.Done()
			if r.durationTicker != nil {
				durationC = r.durationTicker.C()
			}
			if r.amplitudeTicker != nil {
				amplitudeC = r.amplitudeTicker.C()
			}
		}

		select {
		case <-ctx.Done():
			if m.active != nil {
				slog.InfoContext(ctx, "Stopping recording on shutdown", "session", m.active.id)
				m.stop(context.WithoutCancel(ctx))
			}
			return ctx.Err()
		case req := <-m.requests:
			req.reply <- m.handle(req)
		case <-durationC:
			m.onDurationTick(ctx)
		case <-amplitudeC:
			m.onAmplitudeTick()
		case <-engineDone:
			slog.WarnContext(ctx, "Capture engine exited on its own", "session", m.active.id)
			m.stop(ctx)
		}
	}
}

// Wait blocks until every asynchronous media scan has finished.
func (m *Manager) Wait() {
	m.indexing.Wait()
}

func (m *Manager) Start(ctx context.Context) (Info, error) { return m.do(ctx, cmdStart) }

func (m *Manager) TogglePause(ctx context.Context) (Info, error) {
	return m.do(ctx, cmdTogglePause)
}

func (m *Manager) Cancel(ctx context.Context) (Info, error) { return m.do(ctx, cmdCancel) }

// Stop ends the active recording and saves it.
func (m *Manager) Stop(ctx context.Context) (Info, error) { return m.do(ctx, cmdStop) }

func (m *Manager) QueryInfo(ctx context.Context) (Info, error) { return m.do(ctx, cmdQueryInfo) }

func (m *Manager) StopAmplitudeUpdates(ctx context.Context) (Info, error) {
	return m.do(ctx, cmdStopAmplitude)
}

func (m *Manager) do(ctx context.Context, cmd command) (Info, error) {
	req := request{ctx: ctx, cmd: cmd, reply: make(chan result, 1)}
	select {
	case m.requests <- req:
	case <-ctx.Done():
		return Info{}, ctx.Err()
	case <-m.done:
		return Info{}, ErrClosed
	}
	r := <-req.reply
	return r.info, r.err
}

func (m *Manager) handle(req request) result {
	slog.Debug("Session command", "command", req.cmd.String())
	switch req.cmd {
	case cmdStart:
		return m.start(req.ctx)
	case cmdTogglePause:
		return m.togglePause()
	case cmdCancel:
		return m.cancel()
	case cmdStop:
		return m.stop(req.ctx)
	case cmdQueryInfo:
		info := m.info()
		m.publishStatus(info)
		m.publisher.Publish(event.Event{Type: event.TypeDuration, Status: string(info.Status), Duration: info.Duration})
		return result{info: info}
	case cmdStopAmplitude:
		if m.active != nil && m.active.amplitudeTicker != nil {
			m.active.amplitudeTicker.Stop()
			m.active.amplitudeTicker = nil
			slog.Debug("Amplitude updates stopped", "session", m.active.id)
		}
		return result{info: m.info()}
	default:
		return result{err: fmt.Errorf("unknown command %d", req.cmd)}
	}
}

func (m *Manager) info() Info {
	if m.active == nil {
		return Info{Status: StatusStopped}
	}
	return m.active.info()
}

func (m *Manager) start(ctx context.Context) result {
	if m.active != nil {
		slog.Debug("Start ignored, recording already active", "session", m.active.id, "status", m.active.status)
		return result{info: m.active.info()}
	}

	ext := m.settings.Extension()
	now := m.now()
	mode := storage.ModeStandard
	if !m.lock.Unlocked() {
		mode = storage.ModeProtected
	}

	rec, err := m.attempt(mode, ext, now)
	if err != nil && mode == storage.ModeStandard {
		slog.Warn("Standard storage failed, retrying with protected storage", "error", err)
		mode = mode.Alternate()
		rec, err = m.attempt(mode, ext, now)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStartFailed, err)
		slog.Error("Recording could not be started", "mode", mode, "error", err)
		m.foreground.Leave()
		if m.terminate != nil {
			m.terminate(err)
		}
		return result{info: Info{Status: StatusStopped}, err: err}
	}

	rec.status = StatusRunning
	rec.limit = m.settings.MaxDuration()
	rec.durationTicker = m.newTicker(durationInterval)
	rec.amplitudeTicker = m.newTicker(amplitudeInterval)
	m.active = rec

	if err := m.marks.SetLastRecordDate(context.WithoutCancel(ctx), now); err != nil {
		slog.Error("Failed to persist last record date", "error", err)
	}

	info := rec.info()
	slog.InfoContext(ctx, "Recording started", "session", rec.id, "mode", rec.mode, "path", info.Path, "engine", rec.engine.Type())
	m.foreground.Enter(info)
	m.publishStatus(info)
	m.publisher.Publish(event.Event{Type: event.TypeDuration, Status: string(info.Status), Duration: 0})
	return result{info: info}
}

// attempt resolves storage in mode and brings an engine up on it. Anything
// partially built is released and discarded before an error is returned.
func (m *Manager) attempt(mode storage.Mode, ext string, now time.Time) (*recording, error) {
	target, err := m.resolver.Resolve(mode, ext, now)
	if err != nil {
		return nil, fmt.Errorf("resolving %s storage: %w", mode, err)
	}

	engine, err := m.newEngine(ext)
	if err != nil {
		m.discard(target)
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	if target.Handle != nil {
		engine.SetOutputHandle(target.Handle)
	} else {
		engine.SetOutputFile(target.Path)
	}

	if err := engine.Prepare(); err != nil {
		engine.Release()
		m.discard(target)
		return nil, fmt.Errorf("preparing engine in %s storage: %w", mode, err)
	}
	if err := engine.Start(); err != nil {
		engine.Release()
		m.discard(target)
		return nil, fmt.Errorf("starting engine in %s storage: %w", mode, err)
	}

	return &recording{
		id:        uuid.NewString(),
		mode:      mode,
		target:    target,
		engine:    engine,
		startedAt: now,
	}, nil
}

func (m *Manager) discard(target *storage.Target) {
	if err := target.Discard(); err != nil {
		slog.Warn("Failed to discard output", "path", target.Path, "error", err)
	}
}

func (m *Manager) togglePause() result {
	rec := m.active
	if rec == nil {
		return result{info: Info{Status: StatusStopped}, err: ErrNotRecording}
	}

	switch rec.status {
	case StatusRunning:
		if err := rec.engine.Pause(); err != nil {
			return result{info: rec.info(), err: fmt.Errorf("failed to pause recording: %w", err)}
		}
		rec.status = StatusPaused
	case StatusPaused:
		if err := rec.engine.Resume(); err != nil {
			return result{info: rec.info(), err: fmt.Errorf("failed to resume recording: %w", err)}
		}
		rec.status = StatusRunning
	}

	info := rec.info()
	slog.Info("Recording status changed", "session", rec.id, "status", info.Status)
	m.foreground.Update(info)
	m.publishStatus(info)
	return result{info: info}
}

// cancel tears the session down without saving. It never fails.
func (m *Manager) cancel() result {
	rec := m.active
	m.active = nil

	if rec != nil {
		rec.stopTickers()
		if rec.engine != nil {
			if err := rec.engine.Stop(); err != nil {
				slog.Debug("Engine stop during cancel", "error", err)
			}
			rec.engine.Release()
		}
		m.discard(rec.target)
		slog.Info("Recording cancelled", "session", rec.id, "path", rec.target.Path)
	}

	m.foreground.Leave()
	info := Info{Status: StatusStopped}
	m.publishStatus(info)
	m.publisher.Publish(event.Event{Type: event.TypeCompleted, Status: string(info.Status)})
	return result{info: info}
}

// stop finishes the session and saves it. The file is indexed once the
// engine is released and the handle closed; Saved and Completed follow.
func (m *Manager) stop(ctx context.Context) result {
	rec := m.active
	if rec == nil {
		return result{info: Info{Status: StatusStopped}}
	}
	m.active = nil

	rec.stopTickers()
	stopErr := rec.engine.Stop()
	if stopErr != nil {
		slog.Error("Engine stop failed", "session", rec.id, "error", stopErr)
	}
	rec.engine.Release()
	if err := rec.target.Close(); err != nil {
		slog.Warn("Failed to close output handle", "path", rec.target.Path, "error", err)
	}

	final := rec.info()
	final.Status = StatusStopped
	slog.InfoContext(ctx, "Recording stopped", "session", rec.id, "duration", final.Duration, "path", final.Path)
	m.foreground.Leave()
	m.publishStatus(final)

	if stopErr != nil && rec.target.Empty() {
		slog.Error("Recording produced no audio, nothing saved", "session", rec.id, "path", rec.target.Path)
		m.discard(rec.target)
		m.publisher.Publish(event.Event{Type: event.TypeCompleted, Status: string(StatusStopped), Duration: final.Duration})
		return result{info: final}
	}

	m.indexing.Add(1)
	go func(ctx context.Context, target *storage.Target, duration int64) {
		defer m.indexing.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), indexTimeout)
		defer cancel()

		ref, err := m.scan(ctx, target.Path)
		if err != nil {
			slog.Error("Failed to index recording", "path", target.Path, "error", err)
		} else {
			if target.URI != "" {
				ref = target.URI
			}
			slog.Info("Recording saved", "ref", ref)
			m.publisher.Publish(event.Event{Type: event.TypeSaved, Duration: duration, Ref: ref})
		}
		m.publisher.Publish(event.Event{Type: event.TypeCompleted, Status: string(StatusStopped), Duration: duration})
	}(ctx, rec.target, final.Duration)

	return result{info: final}
}

func (m *Manager) scan(ctx context.Context, path string) (string, error) {
	if m.indexer == nil {
		return path, nil
	}
	return m.indexer.Scan(ctx, path)
}

func (m *Manager) onDurationTick(ctx context.Context) {
	rec := m.active
	if rec == nil || rec.status != StatusRunning {
		return
	}
	rec.duration++
	m.publisher.Publish(event.Event{Type: event.TypeDuration, Status: string(rec.status), Duration: rec.duration})

	if rec.limit > 0 && rec.duration >= int64(rec.limit/time.Second) {
		slog.InfoContext(ctx, "Maximum duration reached", "session", rec.id, "max_duration", rec.limit)
		m.stop(ctx)
	}
}

func (m *Manager) onAmplitudeTick() {
	rec := m.active
	if rec == nil {
		return
	}
	m.publisher.Publish(event.Event{Type: event.TypeAmplitude, Status: string(rec.status), Amplitude: rec.engine.MaxAmplitude()})
}

func (m *Manager) publishStatus(info Info) {
	m.publisher.Publish(event.Event{Type: event.TypeStatus, Status: string(info.Status), Duration: info.Duration})
}
