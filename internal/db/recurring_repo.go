package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"taskpulse/internal/types"
)

// RecurringTaskRepository provides data access for the recurring_tasks table.
// The engine advances the scheduling cursor (last_created_at, next_due_at)
// and deactivates expired definitions; it never creates or deletes rows.
type RecurringTaskRepository struct {
	db DBTX
}

// NewRecurringTaskRepository creates a new RecurringTaskRepository backed by
// the given database connection (pool or transaction).
func NewRecurringTaskRepository(db DBTX) *RecurringTaskRepository {
	return &RecurringTaskRepository{db: db}
}

// DueDefinitions returns active definitions whose next_due_at has passed,
// ordered oldest-first so the most overdue definitions are processed before a
// batch limit cuts the run short.
func (r *RecurringTaskRepository) DueDefinitions(ctx context.Context, now time.Time, limit int) ([]types.RecurringTaskDefinition, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, title, COALESCE(description, ''), priority,
		        recurrence_type, recurrence_interval, start_date, end_date,
		        last_created_at, next_due_at, is_active
		 FROM recurring_tasks
		 WHERE is_active = TRUE AND next_due_at <= $1
		 ORDER BY next_due_at ASC
		 LIMIT $2`,
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due recurring definitions", err)
	}
	defer rows.Close()

	return scanDefinitions(rows)
}

// Advance moves a definition's scheduling cursor forward, conditionally: the
// update only applies while next_due_at still holds the value the caller
// read. A concurrent processor that already advanced the row makes this a
// no-op (returns false), so duplicate processor instances cannot
// double-materialize an occurrence.
func (r *RecurringTaskRepository) Advance(ctx context.Context, id string, lastCreatedAt, nextDueAt, expectedNextDueAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE recurring_tasks
		 SET last_created_at = $2, next_due_at = $3
		 WHERE id = $1 AND next_due_at = $4 AND is_active = TRUE`,
		id,
		lastCreatedAt,
		nextDueAt,
		expectedNextDueAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to advance recurring definition", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Deactivate marks a definition expired. next_due_at is left frozen at its
// final value. The update is idempotent: deactivating an already-inactive
// definition affects zero rows and is not an error.
func (r *RecurringTaskRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE recurring_tasks SET is_active = FALSE WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate recurring definition", err)
	}
	return nil
}

// scanDefinitions reads definition rows.
func scanDefinitions(rows pgx.Rows) ([]types.RecurringTaskDefinition, error) {
	var defs []types.RecurringTaskDefinition
	for rows.Next() {
		var d types.RecurringTaskDefinition
		var priority int
		var recurrenceType string
		if err := rows.Scan(
			&d.ID,
			&d.UserID,
			&d.Title,
			&d.Description,
			&priority,
			&recurrenceType,
			&d.RecurrenceInterval,
			&d.StartDate,
			&d.EndDate,
			&d.LastCreatedAt,
			&d.NextDueAt,
			&d.IsActive,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan recurring definition row", err)
		}
		d.Priority = types.Priority(priority)
		d.RecurrenceType = types.RecurrenceType(recurrenceType)
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "recurring definition row iteration failed", err)
	}
	return defs, nil
}
