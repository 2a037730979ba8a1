// Package app assembles the daemon and the one-shot recorder.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/audiolibrelab/dailycapture/internal/alarm"
	"github.com/audiolibrelab/dailycapture/internal/catchup"
	"github.com/audiolibrelab/dailycapture/internal/config"
	"github.com/audiolibrelab/dailycapture/internal/event"
	"github.com/audiolibrelab/dailycapture/internal/host"
	"github.com/audiolibrelab/dailycapture/internal/schedule"
	"github.com/audiolibrelab/dailycapture/internal/server"
	"github.com/audiolibrelab/dailycapture/internal/session"
	"github.com/audiolibrelab/dailycapture/internal/state"
)

// Daemon owns the daily trigger, the session manager and the control API.
type Daemon struct {
	Provider    *config.Provider
	Config      *config.Config
	Store       state.Store
	Bus         *event.Bus
	Halt        *Halt
	Alarms      *alarm.Facility
	Manager     *session.Manager
	Scheduler   *schedule.Scheduler
	Coordinator *catchup.Coordinator
	Server      *server.Server
}

// Run arms the trigger, catches up a missed recording, and serves until ctx
// is done or a recording fails to start in every storage mode. An active
// recording is saved before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		if err := d.Manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Session manager stopped", "error", err)
		}
	}()

	go func() {
		select {
		case <-d.Halt.Done():
			slog.ErrorContext(ctx, "Stopping daemon, recording could not be started", "error", d.Halt.Err())
			cancel()
		case <-ctx.Done():
		}
	}()

	kind, up := host.DetectRestart(d.Config.Host.BootGrace)
	slog.InfoContext(ctx, "Daemon starting", "restart", kind, "uptime", up.Round(time.Second))

	started, err := d.Coordinator.OnRestart(ctx, time.Now())
	switch {
	case err != nil:
		slog.ErrorContext(ctx, "Catch-up recording failed to start", "error", err)
	case started:
		slog.InfoContext(ctx, "Catch-up recording started")
	}

	d.Provider.Watch(func(cfg *config.Config) { d.applyConfig(ctx, cfg) })

	serveErr := d.Server.Run(ctx)
	if serveErr != nil {
		slog.ErrorContext(ctx, "Control API failed", "error", serveErr)
	}
	cancel()
	<-managerDone
	d.Manager.Wait()
	slog.Info("Daemon stopped")
	if serveErr == nil {
		return d.Halt.Err()
	}
	return serveErr
}

// applyConfig re-arms the trigger when the configured time changed.
func (d *Daemon) applyConfig(ctx context.Context, cfg *config.Config) {
	at, err := schedule.ParseTimeOfDay(cfg.Schedule.Time)
	if err != nil || at == d.Scheduler.TimeOfDay() {
		return
	}
	slog.InfoContext(ctx, "Trigger time changed", "from", d.Scheduler.TimeOfDay().String(), "to", at.String())
	d.Scheduler.SetTimeOfDay(at)
	d.Scheduler.ScheduleNext(ctx, time.Now())
}

// Recorder runs a single session outside the daemon.
type Recorder struct {
	Config  *config.Config
	Bus     *event.Bus
	Manager *session.Manager
}

// Result describes a finished one-shot recording.
type Result struct {
	Info session.Info
	Ref  string
}

const savedTimeout = 40 * time.Second

// Record starts a session now and stops it when ctx is done or after d, if
// d is positive. It returns once the recording was indexed.
func (r *Recorder) Record(ctx context.Context, d time.Duration) (Result, error) {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = r.Manager.Run(loopCtx)
	}()
	defer func() {
		cancel()
		<-loopDone
		r.Manager.Wait()
	}()

	events, unsubscribe := r.Bus.Subscribe(64)
	defer unsubscribe()

	info, err := r.Manager.Start(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Info: info}
	slog.InfoContext(ctx, "Recording", "path", info.Path, "mode", info.Mode)

	var limit <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		limit = timer.C
	}

	stopRequested := ctx.Done()
	var deadline <-chan time.Time
	for {
		select {
		case <-stopRequested:
			stopRequested, limit = nil, nil
			if res.Info, err = r.stop(ctx); err != nil {
				return res, err
			}
			deadline = time.After(savedTimeout)
		case <-limit:
			stopRequested, limit = nil, nil
			if res.Info, err = r.stop(ctx); err != nil {
				return res, err
			}
			deadline = time.After(savedTimeout)
		case e := <-events:
			switch e.Type {
			case event.TypeSaved:
				res.Ref = e.Ref
			case event.TypeCompleted:
				res.Info.Status = session.StatusStopped
				res.Info.Duration = e.Duration
				return res, nil
			}
		case <-deadline:
			slog.WarnContext(ctx, "Recording stopped but completion was not reported")
			return res, nil
		}
	}
}

func (r *Recorder) stop(ctx context.Context) (session.Info, error) {
	return r.Manager.Stop(context.WithoutCancel(ctx))
}

// NewDaemon builds the daemon from the current configuration. The returned
// func releases the stores.
func NewDaemon(p *config.Provider, engineLog io.Writer) (*Daemon, func(), error) {
	return wireDaemon(p, engineLog)
}

func NewRecorder(p *config.Provider, engineLog io.Writer) (*Recorder, func(), error) {
	return wireRecorder(p, engineLog)
}
