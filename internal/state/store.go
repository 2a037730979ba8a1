// Package state persists the daily schedule marks: the start time of the last
// successful recording and the currently armed trigger.
package state

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/wire"
)

const (
	KeyLastRecordDate = "last_record_date"
	KeyNextTrigger    = "next_trigger"
)

// ErrUnsupportedDSN is returned by Open for a DSN no backend understands.
var ErrUnsupportedDSN = errors.New("unsupported state dsn")

// ProviderSet is state providers.
var ProviderSet = wire.NewSet(OpenFromConfig)

// Store keeps epoch-millisecond marks under one installation namespace.
// A missing mark reads as the zero time.
type Store interface {
	LastRecordDate(ctx context.Context) (time.Time, error)
	SetLastRecordDate(ctx context.Context, t time.Time) error
	NextTrigger(ctx context.Context) (time.Time, error)
	SetNextTrigger(ctx context.Context, t time.Time) error
	Close() error
}

// kv is the single operation every backend implements; marks is built on top.
type kv interface {
	get(ctx context.Context, key string) (int64, error)
	set(ctx context.Context, key string, value int64) error
	close() error
}

type marks struct {
	kv
}

func (m marks) LastRecordDate(ctx context.Context) (time.Time, error) {
	return m.read(ctx, KeyLastRecordDate)
}

func (m marks) SetLastRecordDate(ctx context.Context, t time.Time) error {
	return m.write(ctx, KeyLastRecordDate, t)
}

func (m marks) NextTrigger(ctx context.Context) (time.Time, error) {
	return m.read(ctx, KeyNextTrigger)
}

func (m marks) SetNextTrigger(ctx context.Context, t time.Time) error {
	return m.write(ctx, KeyNextTrigger, t)
}

func (m marks) Close() error {
	return m.close()
}

func (m marks) read(ctx context.Context, key string) (time.Time, error) {
	ms, err := m.get(ctx, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading %s: %w", key, err)
	}
	return FromMillis(ms), nil
}

func (m marks) write(ctx context.Context, key string, t time.Time) error {
	if err := m.set(ctx, key, ToMillis(t)); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// ToMillis converts t to epoch milliseconds; the zero time maps to 0.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis converts epoch milliseconds to local time; 0 maps to the zero time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).Local()
}

// Open picks a backend from the DSN:
//
//	""                     yaml file under dataDir
//	redis://, rediss://    redis
//	postgres://, mysql://  SQL via gorm
//	sqlite://path, *.db    SQL via gorm on sqlite
func Open(dsn, dataDir, namespace string) (Store, error) {
	switch {
	case dsn == "":
		s, err := openFile(filepath.Join(dataDir, "marks.yaml"), namespace)
		if err != nil {
			return nil, err
		}
		return marks{s}, nil
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		s, err := openRedis(dsn, namespace)
		if err != nil {
			return nil, err
		}
		return marks{s}, nil
	}

	dial, ok := getDialector(dsn, dataDir)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDSN, dsn)
	}
	s, err := openSQL(dial, namespace)
	if err != nil {
		return nil, err
	}
	return marks{s}, nil
}
