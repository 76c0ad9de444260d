// Package scheduler implements the two periodic jobs of the engine: the
// due-soon scanner and the recurrence processor, plus the maintenance job
// that keeps the dedup and dead-letter stores bounded.
//
// Both jobs are safe to run concurrently from multiple instances: every
// mutation is a conditional, idempotent update, so overlapping runs can at
// worst duplicate an event publish, which the dispatcher's dedup window
// absorbs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"taskpulse/internal/types"
)

// EventPublisher is the outbound port for event emission. Satisfied by the
// queue.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, event types.Event, partitionKey string) error
}

// DueSoonTaskStore defines the task-store operations the scanner needs.
type DueSoonTaskStore interface {
	// DueSoon returns uncompleted, unnotified tasks with a due date inside
	// [now, now+window], ordered by due date.
	DueSoon(ctx context.Context, now time.Time, window time.Duration, limit int) ([]types.Task, error)

	// MarkNotified conditionally flips the notified flag. Returns false when
	// another instance already claimed the task.
	MarkNotified(ctx context.Context, taskID string) (bool, error)
}

// DueSoonScanner publishes task-due-soon events for tasks approaching their
// due date. The publish-then-mark order is the at-least-once contract: a
// failed publish leaves notified=false, so the next cycle retries; a failed
// mark after a successful publish can at worst duplicate the event, which
// the consumer-side dedup absorbs.
type DueSoonScanner struct {
	tasks     DueSoonTaskStore
	publisher EventPublisher
	window    time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewDueSoonScanner creates a scanner with the given lookahead window and
// query batch size.
func NewDueSoonScanner(tasks DueSoonTaskStore, publisher EventPublisher, window time.Duration, batchSize int, logger *slog.Logger) *DueSoonScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DueSoonScanner{
		tasks:     tasks,
		publisher: publisher,
		window:    window,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Scan runs one scanner cycle and returns the number of tasks for which a
// due-soon event was published and confirmed.
func (s *DueSoonScanner) Scan(ctx context.Context, now time.Time) (int, error) {
	totalNotified := 0

	for {
		tasks, err := s.tasks.DueSoon(ctx, now, s.window, s.batchSize)
		if err != nil {
			return totalNotified, fmt.Errorf("querying due-soon tasks: %w", err)
		}

		if len(tasks) == 0 {
			break
		}

		s.logger.InfoContext(ctx, "processing due-soon batch",
			"batch_size", len(tasks),
			"total_so_far", totalNotified,
		)

		batchSuccesses := 0
		for _, task := range tasks {
			if err := s.processTask(ctx, task, now); err != nil {
				s.logger.ErrorContext(ctx, "failed to process due-soon task",
					"task_id", task.ID,
					"error", err,
				)
				// Continue with the rest of the batch; notified stays false
				// so the task is re-selected next cycle.
				continue
			}
			totalNotified++
			batchSuccesses++
		}

		if len(tasks) < s.batchSize {
			break
		}

		// Successfully processed tasks drop out of the query (notified=true),
		// but a batch of pure failures would re-select the same rows forever.
		if batchSuccesses == 0 {
			s.logger.WarnContext(ctx, "no progress in due-soon batch, stopping cycle",
				"batch_size", len(tasks),
			)
			break
		}
	}

	s.logger.InfoContext(ctx, "due-soon scan complete", "total_notified", totalNotified)
	return totalNotified, nil
}

// processTask publishes the due-soon event for one task and then marks it
// notified.
func (s *DueSoonScanner) processTask(ctx context.Context, task types.Task, now time.Time) error {
	if task.DueDate == nil {
		// The query filters on due_date; a nil here means a scan bug, not a
		// data problem worth failing the cycle over.
		return fmt.Errorf("task %s selected without a due date", task.ID)
	}

	event, err := types.NewEvent(types.EventTaskDueSoon, types.TaskDueSoonData{
		TaskID:        task.ID,
		UserID:        task.UserID,
		Title:         task.Title,
		DueDate:       *task.DueDate,
		HoursUntilDue: hoursUntil(now, *task.DueDate),
		Priority:      task.Priority,
	})
	if err != nil {
		return fmt.Errorf("building due-soon event for task %s: %w", task.ID, err)
	}

	if err := s.publisher.Publish(ctx, event, task.UserID); err != nil {
		return fmt.Errorf("publishing due-soon event for task %s: %w", task.ID, err)
	}

	marked, err := s.tasks.MarkNotified(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("marking task %s notified: %w", task.ID, err)
	}
	if !marked {
		// A concurrent scanner instance won the flag after we published. The
		// duplicate event carries a distinct event id, so the dispatcher's
		// per-task semantics still hold; just note it.
		s.logger.WarnContext(ctx, "task already marked notified by concurrent scan",
			"task_id", task.ID,
		)
	}

	return nil
}

// hoursUntil reports the whole hours remaining until due, rounded up so that
// "due in 30 minutes" reads as 1 hour, not 0.
func hoursUntil(now, due time.Time) int {
	h := math.Ceil(due.Sub(now).Hours())
	if h < 0 {
		return 0
	}
	return int(h)
}
