// Package schedule arms the daily recording trigger.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/dailycapture/internal/alarm"
)

// TriggerID identifies the daily trigger; registering it again replaces it.
const TriggerID = "daily-record"

// TimeOfDay is a local wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// DefaultTime is 06:00 local time.
var DefaultTime = TimeOfDay{Hour: 6}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// TodayAt returns at on now's calendar day, in now's location.
func TodayAt(now time.Time, at TimeOfDay) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, at.Hour, at.Minute, 0, 0, now.Location())
}

// NextTrigger returns the first occurrence of at strictly after now.
func NextTrigger(now time.Time, at TimeOfDay) time.Time {
	target := TodayAt(now, at)
	if !target.After(now) {
		y, m, d := now.Date()
		target = time.Date(y, m, d+1, at.Hour, at.Minute, 0, 0, now.Location())
	}
	return target
}

// AlarmFacility is the host primitive the trigger is registered with.
type AlarmFacility interface {
	CanScheduleExact() bool
	SetExact(id string, at time.Time, fn alarm.Callback) error
	SetInexact(id string, at time.Time, fn alarm.Callback) error
}

// TriggerStore records the armed trigger so other processes can report it.
type TriggerStore interface {
	SetNextTrigger(ctx context.Context, t time.Time) error
}

// StartFunc starts a recording session now.
type StartFunc func(ctx context.Context) error

type Scheduler struct {
	alarms AlarmFacility
	start  StartFunc
	store  TriggerStore
	now    func() time.Time

	mu   sync.Mutex
	at   TimeOfDay
	next time.Time
}

type Option func(*Scheduler)

func WithTriggerStore(s TriggerStore) Option { return func(sc *Scheduler) { sc.store = s } }
func WithClock(now func() time.Time) Option  { return func(sc *Scheduler) { sc.now = now } }

func NewScheduler(alarms AlarmFacility, at TimeOfDay, start StartFunc, opts ...Option) *Scheduler {
	s := &Scheduler{alarms: alarms, start: start, at: at, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TimeOfDay returns the configured trigger time.
func (s *Scheduler) TimeOfDay() TimeOfDay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.at
}

// SetTimeOfDay changes the trigger time. It takes effect at the next ScheduleNext.
func (s *Scheduler) SetTimeOfDay(at TimeOfDay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.at = at
}

// Next returns the currently armed trigger, zero if none was armed yet.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// ScheduleNext arms the trigger for the next occurrence after now, replacing
// any pending one. Exact scheduling degrades to inexact; failures are logged,
// never returned.
func (s *Scheduler) ScheduleNext(ctx context.Context, now time.Time) time.Time {
	target := NextTrigger(now, s.TimeOfDay())
	fire := func(ctx context.Context) { s.Fire(ctx) }

	exact := false
	if s.alarms.CanScheduleExact() {
		if err := s.alarms.SetExact(TriggerID, target, fire); err != nil {
			slog.WarnContext(ctx, "Exact alarm rejected, falling back to inexact", "error", err)
		} else {
			exact = true
		}
	} else {
		slog.WarnContext(ctx, "Exact alarms not permitted, using inexact alarm")
	}
	if !exact {
		if err := s.alarms.SetInexact(TriggerID, target, fire); err != nil {
			slog.ErrorContext(ctx, "Failed to register daily trigger", "target", target, "error", err)
		}
	}

	s.mu.Lock()
	s.next = target
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SetNextTrigger(ctx, target); err != nil {
			slog.WarnContext(ctx, "Failed to persist next trigger", "error", err)
		}
	}
	slog.InfoContext(ctx, "Daily trigger armed", "target", target, "exact", exact)
	return target
}

// Fire runs the daily trigger: start a recording, then re-arm for the next
// cycle even if the start failed.
func (s *Scheduler) Fire(ctx context.Context) {
	slog.InfoContext(ctx, "Daily trigger fired")
	if err := s.start(ctx); err != nil {
		slog.ErrorContext(ctx, "Daily recording failed to start", "error", err)
	}
	s.ScheduleNext(ctx, s.now())
}
