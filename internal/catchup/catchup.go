// Package catchup decides, at process start, whether today's recording was missed.
package catchup

import (
	"context"
	"log/slog"
	"time"

	"github.com/audiolibrelab/dailycapture/internal/schedule"
)

// Scheduler is the part of the daily scheduler the coordinator needs.
type Scheduler interface {
	ScheduleNext(ctx context.Context, now time.Time) time.Time
	TimeOfDay() schedule.TimeOfDay
}

// MarkReader reads the persisted start time of the most recent session.
type MarkReader interface {
	LastRecordDate(ctx context.Context) (time.Time, error)
}

// HasRecordedToday reports whether mark falls on now's calendar day, compared
// in now's location. A zero mark means nothing was ever recorded.
func HasRecordedToday(mark, now time.Time) bool {
	if mark.IsZero() {
		return false
	}
	mark = mark.In(now.Location())
	return mark.Year() == now.Year() && mark.YearDay() == now.YearDay()
}

// Missed reports whether a catch-up recording is due: the trigger time has
// passed today and nothing was recorded today.
func Missed(mark, now time.Time, at schedule.TimeOfDay) bool {
	return now.After(schedule.TodayAt(now, at)) && !HasRecordedToday(mark, now)
}

type Coordinator struct {
	scheduler Scheduler
	marks     MarkReader
	start     schedule.StartFunc
}

func NewCoordinator(scheduler Scheduler, marks MarkReader, start schedule.StartFunc) *Coordinator {
	return &Coordinator{scheduler: scheduler, marks: marks, start: start}
}

// OnRestart re-arms the daily trigger and starts a recording immediately when
// today's was missed. It reports whether a catch-up start was attempted; the
// returned error is the start error, if any.
func (c *Coordinator) OnRestart(ctx context.Context, now time.Time) (bool, error) {
	c.scheduler.ScheduleNext(ctx, now)

	mark, err := c.marks.LastRecordDate(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read last record date, assuming none", "error", err)
		mark = time.Time{}
	}

	at := c.scheduler.TimeOfDay()
	if !Missed(mark, now, at) {
		slog.InfoContext(ctx, "No catch-up needed", "last_record", mark, "trigger", at.String())
		return false, nil
	}

	slog.InfoContext(ctx, "Daily recording missed, starting catch-up", "last_record", mark, "trigger", at.String())
	return true, c.start(ctx)
}
