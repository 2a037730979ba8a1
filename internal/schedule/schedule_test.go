package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/dailycapture/internal/alarm"

	"pgregory.net/rapid"
)

type registration struct {
	exact bool
	at    time.Time
}

// fakeAlarms records registrations by id, replacing like the real facility.
type fakeAlarms struct {
	mu         sync.Mutex
	canExact   bool
	exactErr   error
	inexactErr error
	regs       map[string]registration
	calls      []string
}

func newFakeAlarms(canExact bool) *fakeAlarms {
	return &fakeAlarms{canExact: canExact, regs: map[string]registration{}}
}

func (f *fakeAlarms) CanScheduleExact() bool { return f.canExact }

func (f *fakeAlarms) SetExact(id string, at time.Time, fn alarm.Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "exact")
	if f.exactErr != nil {
		return f.exactErr
	}
	f.regs[id] = registration{exact: true, at: at}
	return nil
}

func (f *fakeAlarms) SetInexact(id string, at time.Time, fn alarm.Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "inexact")
	if f.inexactErr != nil {
		return f.inexactErr
	}
	f.regs[id] = registration{at: at}
	return nil
}

type fakeTriggerStore struct{ saved []time.Time }

func (s *fakeTriggerStore) SetNextTrigger(_ context.Context, t time.Time) error {
	s.saved = append(s.saved, t)
	return nil
}

func noStart(context.Context) error { return nil }

func TestNextTrigger_StrictlyFutureAtTimeOfDay(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sec := rapid.Int64Range(0, 4_102_444_800).Draw(t, "unix_sec")
		nsec := rapid.Int64Range(0, 999_999_999).Draw(t, "nsec")
		offset := rapid.IntRange(-12*3600, 14*3600).Draw(t, "zone_offset")
		now := time.Unix(sec, nsec).In(time.FixedZone("test", offset))
		at := TimeOfDay{
			Hour:   rapid.IntRange(0, 23).Draw(t, "hour"),
			Minute: rapid.IntRange(0, 59).Draw(t, "minute"),
		}

		target := NextTrigger(now, at)

		if !target.After(now) {
			t.Fatalf("target %v not after now %v", target, now)
		}
		if target.Hour() != at.Hour || target.Minute() != at.Minute || target.Second() != 0 || target.Nanosecond() != 0 {
			t.Fatalf("target %v is not exactly %s", target, at)
		}
		if target.Sub(now) > 24*time.Hour {
			t.Fatalf("target %v more than a day after %v", target, now)
		}
	})
}

func TestNextTrigger_DefaultSixAM(t *testing.T) {
	loc := time.FixedZone("local", 3600)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before six", time.Date(2026, 3, 1, 5, 59, 59, 999_000_000, loc), time.Date(2026, 3, 1, 6, 0, 0, 0, loc)},
		{"exactly six", time.Date(2026, 3, 1, 6, 0, 0, 0, loc), time.Date(2026, 3, 2, 6, 0, 0, 0, loc)},
		{"after six", time.Date(2026, 3, 1, 8, 0, 0, 0, loc), time.Date(2026, 3, 2, 6, 0, 0, 0, loc)},
		{"year end", time.Date(2026, 12, 31, 23, 0, 0, 0, loc), time.Date(2027, 1, 1, 6, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		if got := NextTrigger(tt.now, DefaultTime); !got.Equal(tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestParseTimeOfDay(t *testing.T) {
	at, err := ParseTimeOfDay("06:00")
	if err != nil || at != DefaultTime {
		t.Errorf("Expected 06:00, got %v, %v", at, err)
	}
	if at.String() != "06:00" {
		t.Errorf("Expected String 06:00, got %s", at)
	}
	for _, bad := range []string{"", "6", "24:00", "06:60", "six"} {
		if _, err := ParseTimeOfDay(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestScheduleNext_IdempotentWithRealFacility(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := alarm.New()
		defer f.Close()
		s := NewScheduler(f, DefaultTime, noStart)

		// Registrations far in the future never fire during the test.
		now := time.Now().AddDate(rapid.IntRange(1, 50).Draw(t, "years"), 0, 0)
		calls := rapid.IntRange(1, 5).Draw(t, "calls")

		first := s.ScheduleNext(context.Background(), now)
		for i := 1; i < calls; i++ {
			if got := s.ScheduleNext(context.Background(), now); !got.Equal(first) {
				t.Fatalf("call %d returned %v, first was %v", i, got, first)
			}
		}
		if f.Count() != 1 {
			t.Fatalf("expected one live registration, got %d", f.Count())
		}
		if pending, ok := f.Pending(TriggerID); !ok || !pending.Equal(first) {
			t.Fatalf("pending %v (ok=%v), want %v", pending, ok, first)
		}
	})
}

func TestScheduleNext_ExactWhenPermitted(t *testing.T) {
	fa := newFakeAlarms(true)
	store := &fakeTriggerStore{}
	s := NewScheduler(fa, DefaultTime, noStart, WithTriggerStore(store))
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	target := s.ScheduleNext(context.Background(), now)

	reg := fa.regs[TriggerID]
	if !reg.exact || !reg.at.Equal(target) {
		t.Errorf("Expected exact registration at %v, got %+v", target, reg)
	}
	if !s.Next().Equal(target) {
		t.Errorf("Expected Next %v, got %v", target, s.Next())
	}
	if len(store.saved) != 1 || !store.saved[0].Equal(target) {
		t.Errorf("Expected next trigger persisted, got %v", store.saved)
	}
}

func TestScheduleNext_DegradesToInexact(t *testing.T) {
	tests := []struct {
		name      string
		canExact  bool
		exactErr  error
		wantCalls []string
	}{
		{"not permitted", false, nil, []string{"inexact"}},
		{"rejected", true, alarm.ErrExactDenied, []string{"exact", "inexact"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := newFakeAlarms(tt.canExact)
			fa.exactErr = tt.exactErr
			s := NewScheduler(fa, DefaultTime, noStart)

			target := s.ScheduleNext(context.Background(), time.Now())

			if len(fa.calls) != len(tt.wantCalls) {
				t.Fatalf("Expected calls %v, got %v", tt.wantCalls, fa.calls)
			}
			for i := range tt.wantCalls {
				if fa.calls[i] != tt.wantCalls[i] {
					t.Errorf("Expected calls %v, got %v", tt.wantCalls, fa.calls)
				}
			}
			reg := fa.regs[TriggerID]
			if reg.exact || !reg.at.Equal(target) {
				t.Errorf("Expected inexact registration at %v, got %+v", target, reg)
			}
		})
	}
}

func TestScheduleNext_AbsorbsRegistrationFailure(t *testing.T) {
	fa := newFakeAlarms(false)
	fa.inexactErr = errors.New("facility unavailable")
	s := NewScheduler(fa, DefaultTime, noStart)

	now := time.Date(2026, 4, 1, 5, 0, 0, 0, time.UTC)
	if got := s.ScheduleNext(context.Background(), now); !got.Equal(time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected target still computed, got %v", got)
	}
}

func TestFire_StartsThenReschedulesEvenOnFailure(t *testing.T) {
	fa := newFakeAlarms(true)
	var order []string
	start := func(context.Context) error {
		order = append(order, "start")
		return errors.New("no microphone")
	}
	now := time.Date(2026, 4, 1, 6, 0, 0, 5_000_000, time.UTC)
	s := NewScheduler(fa, DefaultTime, start, WithClock(func() time.Time { return now }))

	s.Fire(context.Background())
	order = append(order, fa.calls...)

	if len(order) != 2 || order[0] != "start" || order[1] != "exact" {
		t.Errorf("Expected start then re-arm, got %v", order)
	}
	if want := time.Date(2026, 4, 2, 6, 0, 0, 0, time.UTC); !s.Next().Equal(want) {
		t.Errorf("Expected next cycle %v, got %v", want, s.Next())
	}
}

func TestScheduler_SetTimeOfDay(t *testing.T) {
	fa := newFakeAlarms(true)
	s := NewScheduler(fa, DefaultTime, noStart)
	s.SetTimeOfDay(TimeOfDay{Hour: 7, Minute: 30})

	got := s.ScheduleNext(context.Background(), time.Date(2026, 4, 1, 7, 0, 0, 0, time.UTC))
	if want := time.Date(2026, 4, 1, 7, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
