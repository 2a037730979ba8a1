package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/wire"

	"github.com/audiolibrelab/dailycapture/internal/alarm"
	"github.com/audiolibrelab/dailycapture/internal/audio"
	"github.com/audiolibrelab/dailycapture/internal/catchup"
	"github.com/audiolibrelab/dailycapture/internal/config"
	"github.com/audiolibrelab/dailycapture/internal/event"
	"github.com/audiolibrelab/dailycapture/internal/host"
	"github.com/audiolibrelab/dailycapture/internal/media"
	"github.com/audiolibrelab/dailycapture/internal/schedule"
	"github.com/audiolibrelab/dailycapture/internal/server"
	"github.com/audiolibrelab/dailycapture/internal/session"
	"github.com/audiolibrelab/dailycapture/internal/state"
	"github.com/audiolibrelab/dailycapture/internal/storage"
)

var (
	// SessionSet builds a session manager and everything it records through.
	SessionSet = wire.NewSet(
		ProvideConfig,
		state.ProviderSet,
		ProvideMediaIndex,
		event.NewBus,
		NewHalt,
		ProvideResolver,
		ProvideEngineFactory,
		ProvideManager,
	)
	// DaemonSet adds the daily trigger, catch-up and control API.
	DaemonSet = wire.NewSet(
		SessionSet,
		ProvideAlarms,
		ProvideStartFunc,
		ProvideScheduler,
		ProvideCoordinator,
		ProvideServer,
		wire.Struct(new(Daemon), "*"),
	)
	RecorderSet = wire.NewSet(
		SessionSet,
		wire.Struct(new(Recorder), "*"),
	)
)

// ProvideConfig returns the snapshot components are built from.
func ProvideConfig(p *config.Provider) *config.Config {
	return p.Current()
}

func ProvideMediaIndex(cfg *config.Config) (*media.Index, func(), error) {
	idx, err := media.Open(filepath.Join(cfg.State.DataDir, "media.db"))
	if err != nil {
		return nil, nil, err
	}
	return idx, func() {
		if err := idx.Close(); err != nil {
			slog.Warn("Failed to close media index", "error", err)
		}
	}, nil
}

func ProvideResolver(p *config.Provider) *storage.Resolver {
	return storage.NewResolver(p)
}

// ProvideEngineFactory builds engines from the audio settings current at
// session start.
func ProvideEngineFactory(p *config.Provider, engineLog io.Writer) session.EngineFactory {
	return func(ext string) (audio.Engine, error) {
		return audio.NewEngine(p.Audio(), ext, engineLog)
	}
}

func ProvideManager(
	cfg *config.Config,
	p *config.Provider,
	resolver *storage.Resolver,
	engines session.EngineFactory,
	store state.Store,
	index *media.Index,
	bus *event.Bus,
	halt *Halt,
) *session.Manager {
	return session.NewManager(resolver, engines, p, store, bus,
		session.WithLockProbe(host.IndicatorProbe{
			LockFile:   cfg.Host.LockIndicator,
			UnlockFile: cfg.Host.UnlockIndicator,
		}),
		session.WithIndexer(index),
		session.WithForeground(host.NewForeground(StatusFile(cfg), cfg.Host.Notify)),
		session.WithTerminate(halt.Trigger),
	)
}

// Halt is tripped when a recording could not be started in any storage
// mode. The daemon exits on it so a supervisor restart gets a fresh catch-up.
type Halt struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewHalt() *Halt {
	return &Halt{done: make(chan struct{})}
}

func (h *Halt) Trigger(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

func (h *Halt) Done() <-chan struct{} { return h.done }

// Err is the error Trigger was called with, nil until then.
func (h *Halt) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// StatusFile is where the running session is published for other processes.
func StatusFile(cfg *config.Config) string {
	return filepath.Join(cfg.State.DataDir, "status.yaml")
}

func ProvideAlarms(cfg *config.Config) (*alarm.Facility, func()) {
	f := alarm.New(
		alarm.WithExactAllowed(cfg.Schedule.Exact),
		alarm.WithRecheck(cfg.Schedule.ExactRecheck),
		alarm.WithWindow(cfg.Schedule.InexactWindow),
	)
	return f, f.Close
}

// ProvideStartFunc adapts the manager's Start to the trigger callback shape.
func ProvideStartFunc(m *session.Manager) schedule.StartFunc {
	return func(ctx context.Context) error {
		_, err := m.Start(ctx)
		return err
	}
}

func ProvideScheduler(cfg *config.Config, alarms *alarm.Facility, start schedule.StartFunc, store state.Store) (*schedule.Scheduler, error) {
	at, err := schedule.ParseTimeOfDay(cfg.Schedule.Time)
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	return schedule.NewScheduler(alarms, at, start, schedule.WithTriggerStore(store)), nil
}

func ProvideCoordinator(sched *schedule.Scheduler, store state.Store, start schedule.StartFunc) *catchup.Coordinator {
	return catchup.NewCoordinator(sched, store, start)
}

func ProvideServer(cfg *config.Config, m *session.Manager, sched *schedule.Scheduler, store state.Store, bus *event.Bus, index *media.Index) *server.Server {
	return server.New(cfg.Server.Listen, m, sched, store, bus, server.WithRecordings(index))
}
