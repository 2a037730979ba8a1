// Package media keeps an index of finished recordings and hands out stable
// references for them.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// RefScheme prefixes every reference returned by Scan.
const RefScheme = "media://"

var (
	ErrNotAudio = errors.New("not an audio file")
	ErrNotFound = errors.New("recording not indexed")
)

// Entry is one indexed recording.
type Entry struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Path      string    `gorm:"uniqueIndex;size:1024;not null" json:"path"`
	MIME      string    `gorm:"size:128" json:"mime"`
	Size      int64     `json:"size"`
	IndexedAt time.Time `json:"indexed_at"`
}

func (Entry) TableName() string { return "media_entries" }

// Ref returns the canonical reference for the entry.
func (e Entry) Ref() string { return RefScheme + e.ID }

type Index struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite index at path.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open media index: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Index, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate media index: %w", err)
	}
	return &Index{db: db}, nil
}

// Scan indexes the file at path and returns its reference. Rescanning a path
// keeps its reference and refreshes size and type.
func (i *Index) Scan(ctx context.Context, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", abs, err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("scan %s: is a directory", abs)
	}
	mt, err := mimetype.DetectFile(abs)
	if err != nil {
		return "", fmt.Errorf("detect type of %s: %w", abs, err)
	}
	if !isAudio(mt) {
		return "", fmt.Errorf("scan %s (%s): %w", abs, mt.String(), ErrNotAudio)
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Path:      abs,
		MIME:      mt.String(),
		Size:      fi.Size(),
		IndexedAt: time.Now(),
	}
	err = i.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"mime", "size", "indexed_at"}),
	}).Create(&entry).Error
	if err != nil {
		return "", fmt.Errorf("index %s: %w", abs, err)
	}

	stored, err := i.byPath(ctx, abs)
	if err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "Recording indexed", "path", abs, "ref", stored.Ref(), "mime", stored.MIME, "size", stored.Size)
	return stored.Ref(), nil
}

// Lookup resolves a reference returned by Scan.
func (i *Index) Lookup(ctx context.Context, ref string) (Entry, error) {
	id, ok := strings.CutPrefix(ref, RefScheme)
	if !ok {
		return Entry{}, fmt.Errorf("not a media reference: %q", ref)
	}
	var e Entry
	err := i.db.WithContext(ctx).Where(&Entry{ID: id}).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, fmt.Errorf("lookup %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup %s: %w", ref, err)
	}
	return e, nil
}

// List returns indexed recordings, newest first.
func (i *Index) List(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	q := i.db.WithContext(ctx).Order("indexed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (i *Index) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (i *Index) byPath(ctx context.Context, path string) (Entry, error) {
	var e Entry
	if err := i.db.WithContext(ctx).Where(&Entry{Path: path}).Take(&e).Error; err != nil {
		return Entry{}, fmt.Errorf("read back %s: %w", path, err)
	}
	return e, nil
}

func isAudio(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") {
			return true
		}
	}
	// Containers that may hold audio only.
	return mt.Is("video/mp4") || mt.Is("audio/mp4") || mt.Is("application/ogg")
}
