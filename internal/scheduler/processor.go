package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskpulse/internal/recurrence"
	"taskpulse/internal/types"
)

// DefinitionStore defines the recurring-definition operations the processor
// needs.
type DefinitionStore interface {
	// DueDefinitions returns active definitions with next_due_at <= now.
	DueDefinitions(ctx context.Context, now time.Time, limit int) ([]types.RecurringTaskDefinition, error)

	// Advance moves the definition cursor forward, guarded by a
	// compare-and-set on the expected next_due_at. Returns false when a
	// concurrent processor already advanced the row.
	Advance(ctx context.Context, id string, lastCreatedAt, nextDueAt, expectedNextDueAt time.Time) (bool, error)

	// Deactivate expires a definition. Idempotent.
	Deactivate(ctx context.Context, id string) error
}

// TaskCreator creates materialized task rows.
type TaskCreator interface {
	Create(ctx context.Context, task *types.Task) error
}

// RecurrenceProcessor materializes due occurrences of recurring task
// definitions: one Task row plus one recurring-task-due event per cycle,
// catching up missed cycles up to the backfill cap.
type RecurrenceProcessor struct {
	definitions DefinitionStore
	tasks       TaskCreator
	publisher   EventPublisher
	batchSize   int
	maxBackfill int
	logger      *slog.Logger

	// newID is swapped in tests for stable task ids.
	newID func() string
}

// NewRecurrenceProcessor creates a processor with the given query batch size
// and per-definition backfill cap.
func NewRecurrenceProcessor(
	definitions DefinitionStore,
	tasks TaskCreator,
	publisher EventPublisher,
	batchSize int,
	maxBackfill int,
	logger *slog.Logger,
) *RecurrenceProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecurrenceProcessor{
		definitions: definitions,
		tasks:       tasks,
		publisher:   publisher,
		batchSize:   batchSize,
		maxBackfill: maxBackfill,
		logger:      logger,
		newID:       func() string { return uuid.New().String() },
	}
}

// Process runs one processor cycle and returns the number of tasks
// materialized. Definitions are processed independently: a failure on one is
// logged and skipped, never aborting the rest (its next_due_at stays in the
// past, so the next cycle retries it).
func (p *RecurrenceProcessor) Process(ctx context.Context, now time.Time) (int, error) {
	totalMaterialized := 0

	for {
		defs, err := p.definitions.DueDefinitions(ctx, now, p.batchSize)
		if err != nil {
			return totalMaterialized, fmt.Errorf("querying due definitions: %w", err)
		}

		if len(defs) == 0 {
			break
		}

		p.logger.InfoContext(ctx, "processing recurrence batch",
			"batch_size", len(defs),
			"total_so_far", totalMaterialized,
		)

		batchSuccesses := 0
		for _, def := range defs {
			created, err := p.processDefinition(ctx, def, now)
			totalMaterialized += created
			if err != nil {
				p.logger.ErrorContext(ctx, "failed to process recurring definition",
					"definition_id", def.ID,
					"tasks_created_before_failure", created,
					"error", err,
				)
				continue
			}
			batchSuccesses++
		}

		if len(defs) < p.batchSize {
			break
		}
		if batchSuccesses == 0 {
			p.logger.WarnContext(ctx, "no progress in recurrence batch, stopping cycle",
				"batch_size", len(defs),
			)
			break
		}
	}

	p.logger.InfoContext(ctx, "recurrence processing complete",
		"total_materialized", totalMaterialized,
	)
	return totalMaterialized, nil
}

// processDefinition catches one definition up to now, materializing at most
// maxBackfill occurrences. Returns the number of tasks created.
func (p *RecurrenceProcessor) processDefinition(ctx context.Context, def types.RecurringTaskDefinition, now time.Time) (int, error) {
	created := 0

	for created < p.maxBackfill {
		if def.NextDueAt.After(now) {
			return created, nil
		}

		occurrence := def.NextDueAt

		if err := p.materialize(ctx, def, occurrence); err != nil {
			return created, err
		}
		created++

		// Compute the cycle after this occurrence and advance the cursor
		// under a CAS on the value we read. A lost CAS means a concurrent
		// processor is working the same definition; back off and let it.
		next := recurrence.Next(withLastCreated(def, occurrence))
		if next.Inactive {
			if err := p.definitions.Deactivate(ctx, def.ID); err != nil {
				return created, fmt.Errorf("deactivating definition %s: %w", def.ID, err)
			}
			p.logger.InfoContext(ctx, "recurring definition expired",
				"definition_id", def.ID,
			)
			return created, nil
		}

		advanced, err := p.definitions.Advance(ctx, def.ID, occurrence, next.NextDueAt, def.NextDueAt)
		if err != nil {
			return created, fmt.Errorf("advancing definition %s: %w", def.ID, err)
		}
		if !advanced {
			p.logger.WarnContext(ctx, "definition advanced by concurrent processor, yielding",
				"definition_id", def.ID,
			)
			return created, nil
		}

		def.LastCreatedAt = &occurrence
		def.NextDueAt = next.NextDueAt
	}

	// Backfill cap hit with cycles still owed: skip the remainder and
	// re-anchor the schedule at now minus one interval, so the next cycle
	// resumes from the present instead of replaying the backlog.
	if !def.NextDueAt.After(now) {
		jumped := recurrence.CycleBack(def, now)
		next := recurrence.Next(withLastCreated(def, jumped))
		if next.Inactive {
			if err := p.definitions.Deactivate(ctx, def.ID); err != nil {
				return created, fmt.Errorf("deactivating definition %s: %w", def.ID, err)
			}
			return created, nil
		}

		advanced, err := p.definitions.Advance(ctx, def.ID, jumped, next.NextDueAt, def.NextDueAt)
		if err != nil {
			return created, fmt.Errorf("re-anchoring definition %s: %w", def.ID, err)
		}
		if advanced {
			p.logger.WarnContext(ctx, "backfill cap reached, skipping missed cycles",
				"definition_id", def.ID,
				"cap", p.maxBackfill,
				"last_created_at", jumped.Format(time.RFC3339),
				"next_due_at", next.NextDueAt.Format(time.RFC3339),
			)
		}
	}

	return created, nil
}

// materialize creates the Task row for one occurrence and publishes its
// recurring-task-due event.
func (p *RecurrenceProcessor) materialize(ctx context.Context, def types.RecurringTaskDefinition, occurrence time.Time) error {
	due := occurrence
	task := &types.Task{
		ID:              p.newID(),
		UserID:          def.UserID,
		Title:           def.Title,
		Description:     def.Description,
		Priority:        def.Priority,
		DueDate:         &due,
		RecurringTaskID: def.ID,
	}

	if err := p.tasks.Create(ctx, task); err != nil {
		return fmt.Errorf("creating task for definition %s: %w", def.ID, err)
	}

	event, err := types.NewEvent(types.EventRecurringTaskDue, types.RecurringTaskDueData{
		TaskID:          task.ID,
		UserID:          def.UserID,
		Title:           def.Title,
		DueDate:         occurrence,
		Priority:        def.Priority,
		RecurringTaskID: def.ID,
		RecurrenceType:  def.RecurrenceType,
	})
	if err != nil {
		return fmt.Errorf("building recurring-task-due event for definition %s: %w", def.ID, err)
	}

	if err := p.publisher.Publish(ctx, event, def.UserID); err != nil {
		// The row exists but the event did not go out. The definition cursor
		// has not advanced, so the next cycle recreates the occurrence; the
		// duplicate row is the accepted cost of losing neither task nor
		// event.
		return fmt.Errorf("publishing recurring-task-due event for definition %s: %w", def.ID, err)
	}

	return nil
}

func withLastCreated(def types.RecurringTaskDefinition, last time.Time) types.RecurringTaskDefinition {
	def.LastCreatedAt = &last
	return def
}
