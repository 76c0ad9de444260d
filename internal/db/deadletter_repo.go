package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"taskpulse/internal/types"
)

// DeadLetterRepository provides data access for the dead_letters table: the
// append-only parking lot for events that exhausted their retry budget or
// failed permanent validation. Operators inspect and resolve entries through
// the ops API; the maintenance job archives resolved entries.
type DeadLetterRepository struct {
	db DBTX
}

// NewDeadLetterRepository creates a new DeadLetterRepository backed by the
// given database connection (pool or transaction).
func NewDeadLetterRepository(db DBTX) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// InsertIfNotExists performs an idempotent insert using INSERT ... ON
// CONFLICT DO NOTHING. The entry ID is deterministic ("dlq_" + event id), so
// an event that fails on redelivery after already being dead-lettered
// produces exactly one entry, never two. Returns whether a row was created.
func (r *DeadLetterRepository) InsertIfNotExists(ctx context.Context, e *types.DeadLetterEntry) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO dead_letters
		 (id, original_event, topic, last_error, retry_count,
		  first_failed_at, last_attempt_at, resolved)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID,
		e.OriginalEvent,
		e.Topic,
		e.LastError,
		e.RetryCount,
		e.FirstFailedAt,
		e.LastAttemptAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert dead-letter entry", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns dead-letter entries for operator inspection, newest first.
// Resolved entries are excluded unless includeResolved is set.
func (r *DeadLetterRepository) List(ctx context.Context, includeResolved bool, limit, offset int) ([]types.DeadLetterEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, original_event, topic, last_error, retry_count,
		        first_failed_at, last_attempt_at, resolved
		 FROM dead_letters
		 WHERE ($1 OR resolved = FALSE)
		 ORDER BY first_failed_at DESC
		 LIMIT $2 OFFSET $3`,
		includeResolved,
		limit,
		offset,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list dead-letter entries", err)
	}
	defer rows.Close()

	return scanDeadLetters(rows)
}

// Resolve marks an entry handled by an operator. Returns a not-found error
// when the id does not exist.
func (r *DeadLetterRepository) Resolve(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE dead_letters SET resolved = TRUE WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to resolve dead-letter entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDeadLetter, "dead-letter entry not found", nil)
	}
	return nil
}

// ResolvedBefore returns resolved entries whose last attempt is older than
// the cutoff. Used by the maintenance job to build the archive export before
// purging.
func (r *DeadLetterRepository) ResolvedBefore(ctx context.Context, cutoff time.Time) ([]types.DeadLetterEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, original_event, topic, last_error, retry_count,
		        first_failed_at, last_attempt_at, resolved
		 FROM dead_letters
		 WHERE resolved = TRUE AND last_attempt_at < $1
		 ORDER BY last_attempt_at ASC`,
		cutoff,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query resolved dead-letter entries", err)
	}
	defer rows.Close()

	return scanDeadLetters(rows)
}

// PurgeResolvedBefore deletes resolved entries older than the cutoff and
// returns the number removed. Callers archive first via ResolvedBefore.
func (r *DeadLetterRepository) PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM dead_letters
		 WHERE resolved = TRUE AND last_attempt_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge resolved dead-letter entries", err)
	}
	return tag.RowsAffected(), nil
}

func scanDeadLetters(rows pgx.Rows) ([]types.DeadLetterEntry, error) {
	var entries []types.DeadLetterEntry
	for rows.Next() {
		var e types.DeadLetterEntry
		if err := rows.Scan(
			&e.ID,
			&e.OriginalEvent,
			&e.Topic,
			&e.LastError,
			&e.RetryCount,
			&e.FirstFailedAt,
			&e.LastAttemptAt,
			&e.Resolved,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan dead-letter row", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "dead-letter row iteration failed", err)
	}
	return entries, nil
}
