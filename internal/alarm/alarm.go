// Package alarm is the host alarm facility: one-shot wall-clock alarms
// registered by id, where registering an id again replaces the pending alarm.
//
// Exact alarms use a timer plus a periodic wall-clock recheck, so they still
// fire promptly after a suspend or a clock change. Inexact alarms only poll
// the wall clock once per window and may fire up to a window late.
package alarm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrExactDenied is returned by SetExact when exact alarms are not permitted.
	ErrExactDenied = errors.New("exact alarms not permitted")
	ErrClosed      = errors.New("alarm facility closed")
)

// Callback runs on the alarm's own goroutine when the alarm fires.
type Callback func(ctx context.Context)

type entry struct {
	id      string
	at      time.Time
	exact   bool
	fn      Callback
	stop    chan struct{}
	stopped chan struct{}
}

type Facility struct {
	exactAllowed bool
	recheck      time.Duration
	window       time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

type Option func(*Facility)

// WithExactAllowed sets whether exact alarms are permitted on this host.
func WithExactAllowed(allowed bool) Option { return func(f *Facility) { f.exactAllowed = allowed } }
func WithRecheck(d time.Duration) Option   { return func(f *Facility) { f.recheck = d } }
func WithWindow(d time.Duration) Option    { return func(f *Facility) { f.window = d } }
func WithClock(now func() time.Time) Option {
	return func(f *Facility) { f.now = now }
}

func New(opts ...Option) *Facility {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Facility{
		exactAllowed: true,
		recheck:      time.Minute,
		window:       15 * time.Minute,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		entries:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CanScheduleExact reports whether SetExact is permitted.
func (f *Facility) CanScheduleExact() bool {
	return f.exactAllowed
}

func (f *Facility) SetExact(id string, at time.Time, fn Callback) error {
	if !f.exactAllowed {
		return ErrExactDenied
	}
	return f.set(&entry{id: id, at: at, exact: true, fn: fn})
}

func (f *Facility) SetInexact(id string, at time.Time, fn Callback) error {
	return f.set(&entry{id: id, at: at, fn: fn})
}

func (f *Facility) set(e *entry) error {
	e.stop = make(chan struct{})
	e.stopped = make(chan struct{})

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	old := f.entries[e.id]
	f.entries[e.id] = e
	f.wg.Add(1)
	f.mu.Unlock()

	if old != nil {
		close(old.stop)
		<-old.stopped
		slog.Debug("Replaced pending alarm", "id", e.id, "previous", old.at)
	}

	go f.watch(e)
	slog.Debug("Alarm registered", "id", e.id, "at", e.at, "exact", e.exact)
	return nil
}

// Cancel removes the pending alarm with id, if any.
func (f *Facility) Cancel(id string) {
	f.mu.Lock()
	e := f.entries[id]
	delete(f.entries, id)
	f.mu.Unlock()

	if e != nil {
		close(e.stop)
		<-e.stopped
	}
}

// Pending returns the fire time of the alarm with id.
func (f *Facility) Pending(id string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Count returns the number of pending alarms.
func (f *Facility) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Close cancels every pending alarm and waits for running callbacks.
func (f *Facility) Close() {
	f.mu.Lock()
	f.closed = true
	entries := f.entries
	f.entries = make(map[string]*entry)
	f.mu.Unlock()

	f.cancel()
	for _, e := range entries {
		close(e.stop)
	}
	f.wg.Wait()
}

func (f *Facility) watch(e *entry) {
	defer f.wg.Done()
	defer close(e.stopped)

	interval := f.window
	var timerC <-chan time.Time
	if e.exact {
		interval = f.recheck
		timer := time.NewTimer(max(e.at.Sub(f.now()), 0))
		defer timer.Stop()
		timerC = timer.C
	}
	poll := time.NewTicker(interval)
	defer poll.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-timerC:
			timerC = nil
		case <-poll.C:
		}
		if !f.now().Before(e.at) {
			f.fire(e)
			return
		}
	}
}

func (f *Facility) fire(e *entry) {
	f.mu.Lock()
	if f.entries[e.id] != e {
		// Replaced or cancelled while deciding to fire.
		f.mu.Unlock()
		return
	}
	delete(f.entries, e.id)
	f.mu.Unlock()

	slog.Info("Alarm fired", "id", e.id, "at", e.at, "exact", e.exact, "late", f.now().Sub(e.at).Round(time.Millisecond))
	e.fn(f.ctx)
}
