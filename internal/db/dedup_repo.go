package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"taskpulse/internal/types"
)

// ProcessedEventRepository provides the dispatcher's deduplication window:
// a processed_events table keyed by event id. A row is written only after a
// handler completes successfully, so redelivered events that crashed
// mid-processing are retried (at-least-once), while events that already
// succeeded are acknowledged and skipped.
//
// The maintenance job prunes rows older than the configured TTL, which must
// exceed the broker's maximum redelivery window.
type ProcessedEventRepository struct {
	db DBTX
}

// NewProcessedEventRepository creates a new ProcessedEventRepository backed
// by the given database connection (pool or transaction).
func NewProcessedEventRepository(db DBTX) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

// WasProcessed reports whether the event id has already been successfully
// handled.
func (r *ProcessedEventRepository) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)`,
		eventID,
	).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check processed event", err)
	}
	return exists, nil
}

// MarkProcessed records a successfully handled event id. The insert is
// idempotent (ON CONFLICT DO NOTHING) because a redelivery can race the
// original delivery's commit.
func (r *ProcessedEventRepository) MarkProcessed(ctx context.Context, eventID string, eventType types.EventType) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO processed_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID,
		string(eventType),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark event processed", err)
	}
	return nil
}

// DeleteOlderThan prunes dedup rows past the TTL window and returns the
// number removed.
func (r *ProcessedEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune processed events", err)
	}
	return tag.RowsAffected(), nil
}
