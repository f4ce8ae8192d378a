package ports

import (
	"context"

	"github.com/lcalzada-xor/chira/internal/core/domain"
)

// RecordStore keeps the last known record per feed path.
type RecordStore interface {
	// SaveRecords upserts records, the newest per path wins.
	SaveRecords(ctx context.Context, records []domain.FeedRecord) error

	// LatestRecord returns the stored record for path, nil if none.
	LatestRecord(ctx context.Context, path string) (*domain.FeedRecord, error)

	// Close closes the storage connection.
	Close() error
}

// TransitionRepository persists liveness changes.
type TransitionRepository interface {
	// SaveTransition persists a single online/offline change.
	SaveTransition(ctx context.Context, t domain.LivenessTransition) error

	// ListTransitions retrieves the newest transitions first.
	ListTransitions(ctx context.Context, limit int) ([]domain.LivenessTransition, error)
}

// RecordSink accepts records for asynchronous persistence. Persist must not block.
type RecordSink interface {
	Persist(record domain.FeedRecord)
}
