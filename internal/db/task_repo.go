package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"taskpulse/internal/types"
)

// TaskRepository provides the narrow slice of task-table access this engine
// needs: selecting due-soon candidates, flipping the notified flag, and
// materializing recurring occurrences. Full task CRUD lives in another
// subsystem; this repository deliberately cannot delete or complete tasks.
type TaskRepository struct {
	db DBTX
}

// NewTaskRepository creates a new TaskRepository backed by the given database
// connection (pool or transaction).
func NewTaskRepository(db DBTX) *TaskRepository {
	return &TaskRepository{db: db}
}

// DueSoon returns tasks whose due date falls inside the lookahead window
// starting at now, that are neither completed nor already notified. Results
// are ordered by due date so the earliest deadlines are published first.
func (r *TaskRepository) DueSoon(ctx context.Context, now time.Time, window time.Duration, limit int) ([]types.Task, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, title, COALESCE(description, ''), priority,
		        due_date, completed, notified, COALESCE(recurring_task_id, '')
		 FROM tasks
		 WHERE due_date IS NOT NULL
		   AND due_date >= $1
		   AND due_date <= $2
		   AND completed = FALSE
		   AND notified = FALSE
		 ORDER BY due_date ASC
		 LIMIT $3`,
		now,
		now.Add(window),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due-soon tasks", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// MarkNotified flips the notified flag for a task, conditionally: the update
// only applies while notified is still FALSE. Returns false when another
// scanner instance (or a previous cycle) already claimed the task, which
// makes concurrent scanner runs safe without any locking.
func (r *TaskRepository) MarkNotified(ctx context.Context, taskID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE tasks SET notified = TRUE
		 WHERE id = $1 AND notified = FALSE`,
		taskID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark task notified", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Create inserts a task row materialized from a recurring definition. The
// caller sets the ID and the recurring_task_id back-reference. Notified and
// completed start FALSE.
func (r *TaskRepository) Create(ctx context.Context, t *types.Task) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO tasks
		 (id, user_id, title, description, priority, due_date,
		  completed, notified, recurring_task_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE, $7, NOW())`,
		t.ID,
		t.UserID,
		t.Title,
		t.Description,
		int(t.Priority),
		t.DueDate,
		nilIfEmpty(t.RecurringTaskID),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create task occurrence", err)
	}
	return nil
}

// GetUserEmail resolves the notification address for a user. The users table
// is owned by the auth subsystem; this engine only reads the email column.
func (r *TaskRepository) GetUserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.db.QueryRow(ctx,
		`SELECT email FROM users WHERE id = $1`,
		userID,
	).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", types.NewAppError(types.ErrCodeNotFoundTask, "user not found for notification", err)
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to look up user email", err)
	}
	return email, nil
}

// scanTasks reads task rows into the engine's Task subset.
func scanTasks(rows pgx.Rows) ([]types.Task, error) {
	var tasks []types.Task
	for rows.Next() {
		var t types.Task
		var priority int
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.Title,
			&t.Description,
			&priority,
			&t.DueDate,
			&t.Completed,
			&t.Notified,
			&t.RecurringTaskID,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan task row", err)
		}
		t.Priority = types.Priority(priority)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "task row iteration failed", err)
	}
	return tasks, nil
}

// nilIfEmpty converts empty strings to nil for nullable columns.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
