package state

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// scheduleMark is one persisted key of one installation.
type scheduleMark struct {
	Namespace string `gorm:"primaryKey;size:64"`
	Key       string `gorm:"primaryKey;size:64"`
	Value     int64
	UpdatedAt time.Time
}

func (scheduleMark) TableName() string { return "schedule_marks" }

type sqlStore struct {
	db        *gorm.DB
	namespace string
}

// getDialector returns the gorm dialector for dsn, or false if none matches.
func getDialector(dsn, dataDir string) (gorm.Dialector, bool) {
	switch {
	case strings.HasPrefix(dsn, "postgres"):
		return postgres.New(postgres.Config{
			DriverName: "pgx",
			DSN:        dsn,
		}), true
	case strings.HasPrefix(dsn, "mysql://"):
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://")), true
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(sqlitePath(strings.TrimPrefix(dsn, "sqlite://"), dataDir)), true
	case strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return sqlite.Open(sqlitePath(dsn, dataDir)), true
	default:
		return nil, false
	}
}

func sqlitePath(path, dataDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataDir, path)
}

func openSQL(dial gorm.Dialector, namespace string) (*sqlStore, error) {
	db, err := gorm.Open(dial, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	if dial.Name() == "sqlite" {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
			sqlDB.SetMaxIdleConns(1)
		}
	}
	if err := db.AutoMigrate(&scheduleMark{}); err != nil {
		return nil, fmt.Errorf("migrating state database: %w", err)
	}
	return newSQLStore(db, namespace), nil
}

func newSQLStore(db *gorm.DB, namespace string) *sqlStore {
	return &sqlStore{db: db, namespace: namespace}
}

func (s *sqlStore) get(ctx context.Context, key string) (int64, error) {
	var m scheduleMark
	err := s.db.WithContext(ctx).
		Where(&scheduleMark{Namespace: s.namespace, Key: key}).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.Value, nil
}

func (s *sqlStore) set(ctx context.Context, key string, value int64) error {
	m := scheduleMark{Namespace: s.namespace, Key: key, Value: value}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&m).Error
}

func (s *sqlStore) close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
