package db

import (
	"context"
	"time"

	"taskpulse/internal/types"
)

// JobLockRepository provides best-effort distributed locking via the
// job_locks table. The scheduler jobs are safe to run concurrently (their
// updates are conditional and idempotent), so the lock is an optimization
// that reduces duplicate-event volume when multiple instances fire, not a
// correctness requirement. A worker that fails to acquire the lock simply
// skips the run.
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a new JobLockRepository backed by the given
// database connection (pool or transaction).
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire attempts to insert a lock row. Returns true if acquired, false if
// the lock already exists and has not expired. The lockID is typically
// "job_type:timestamp_hour" (e.g., "due_soon_scan:2026-09-01T14").
//
// The locked_at and expires_at values are computed as time.Time in Go to
// avoid PostgreSQL interval parsing incompatibilities with Go's duration
// format. If the existing row has expired, the ON CONFLICT UPDATE reclaims
// it; if it is still active, the WHERE clause prevents the update and zero
// rows are affected.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}

	return tag.RowsAffected() > 0, nil
}
