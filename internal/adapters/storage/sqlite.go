package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/ports"
)

// SQLiteAdapter implements ports.RecordStore and ports.TransitionRepository
// using GORM and SQLite.
type SQLiteAdapter struct {
	db *gorm.DB
}

// RecordModel is the last payload seen on one feed path.
type RecordModel struct {
	Path       string `gorm:"primaryKey"`
	Payload    []byte
	ReceivedAt time.Time `gorm:"index"`
	UpdatedAt  time.Time
}

// NewSQLiteAdapter opens the database, migrates the schema and instruments
// queries with OpenTelemetry.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("install tracing plugin: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, err
	}
	return &SQLiteAdapter{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&RecordModel{}, &domain.LivenessTransition{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SaveRecords upserts a batch in one transaction. When a batch holds several
// records for the same path only the newest is written.
func (a *SQLiteAdapter) SaveRecords(ctx context.Context, records []domain.FeedRecord) error {
	if len(records) == 0 {
		return nil
	}

	newest := make(map[string]domain.FeedRecord, len(records))
	for _, r := range records {
		if cur, ok := newest[r.Path]; !ok || !r.ReceivedAt.Before(cur.ReceivedAt) {
			newest[r.Path] = r
		}
	}
	models := make([]RecordModel, 0, len(newest))
	for _, r := range newest {
		models = append(models, RecordModel{Path: r.Path, Payload: r.Payload, ReceivedAt: r.ReceivedAt})
	}

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			UpdateAll: true,
		}).CreateInBatches(models, 100).Error
	})
}

// LatestRecord returns the stored record for path, nil if none.
func (a *SQLiteAdapter) LatestRecord(ctx context.Context, path string) (*domain.FeedRecord, error) {
	var m RecordModel
	err := a.db.WithContext(ctx).First(&m, "path = ?", path).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.FeedRecord{Path: m.Path, Payload: m.Payload, ReceivedAt: m.ReceivedAt}, nil
}

// SaveTransition appends a liveness change.
func (a *SQLiteAdapter) SaveTransition(ctx context.Context, t domain.LivenessTransition) error {
	t.ID = 0
	return a.db.WithContext(ctx).Create(&t).Error
}

// ListTransitions returns the newest transitions first.
func (a *SQLiteAdapter) ListTransitions(ctx context.Context, limit int) ([]domain.LivenessTransition, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.LivenessTransition
	err := a.db.WithContext(ctx).Order("at DESC, id DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *SQLiteAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ensure interface compliance
var (
	_ ports.RecordStore          = (*SQLiteAdapter)(nil)
	_ ports.TransitionRepository = (*SQLiteAdapter)(nil)
)
