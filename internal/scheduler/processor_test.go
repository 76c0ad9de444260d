package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"taskpulse/internal/types"
)

// mockDefinitionStore holds definitions in memory with CAS semantics on
// Advance, mirroring the real repository.
type mockDefinitionStore struct {
	defs         map[string]*types.RecurringTaskDefinition
	advanceErr   error
	casLoseFor   map[string]bool
	advanceCalls int
}

func newMockDefinitionStore(defs ...*types.RecurringTaskDefinition) *mockDefinitionStore {
	m := &mockDefinitionStore{
		defs:       map[string]*types.RecurringTaskDefinition{},
		casLoseFor: map[string]bool{},
	}
	for _, d := range defs {
		m.defs[d.ID] = d
	}
	return m
}

func (m *mockDefinitionStore) DueDefinitions(_ context.Context, now time.Time, limit int) ([]types.RecurringTaskDefinition, error) {
	var out []types.RecurringTaskDefinition
	for _, d := range m.defs {
		if d.IsActive && !d.NextDueAt.After(now) {
			out = append(out, *d)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockDefinitionStore) Advance(_ context.Context, id string, lastCreatedAt, nextDueAt, expectedNextDueAt time.Time) (bool, error) {
	m.advanceCalls++
	if m.advanceErr != nil {
		return false, m.advanceErr
	}
	if m.casLoseFor[id] {
		return false, nil
	}
	d, ok := m.defs[id]
	if !ok {
		return false, nil
	}
	if !d.NextDueAt.Equal(expectedNextDueAt) {
		return false, nil
	}
	last := lastCreatedAt
	d.LastCreatedAt = &last
	d.NextDueAt = nextDueAt
	return true, nil
}

func (m *mockDefinitionStore) Deactivate(_ context.Context, id string) error {
	if d, ok := m.defs[id]; ok {
		d.IsActive = false
	}
	return nil
}

// mockTaskCreator records created tasks, optionally failing for a user.
type mockTaskCreator struct {
	created []types.Task
	failFor map[string]error
}

func newMockTaskCreator() *mockTaskCreator {
	return &mockTaskCreator{failFor: map[string]error{}}
}

func (m *mockTaskCreator) Create(_ context.Context, task *types.Task) error {
	if err, ok := m.failFor[task.UserID]; ok {
		return err
	}
	m.created = append(m.created, *task)
	return nil
}

func weeklyDef(id string, start time.Time) *types.RecurringTaskDefinition {
	return &types.RecurringTaskDefinition{
		ID:                 id,
		UserID:             "user_1",
		Title:              "weekly review",
		Priority:           types.PriorityMedium,
		RecurrenceType:     types.RecurrenceWeekly,
		RecurrenceInterval: 1,
		StartDate:          start,
		NextDueAt:          start,
		IsActive:           true,
	}
}

func newTestProcessor(defs *mockDefinitionStore, tasks *mockTaskCreator, pub *mockPublisher, maxBackfill int) *RecurrenceProcessor {
	p := NewRecurrenceProcessor(defs, tasks, pub, 100, maxBackfill, discardLogger())
	seq := 0
	p.newID = func() string {
		seq++
		return fmt.Sprintf("task_%d", seq)
	}
	return p
}

func TestRecurrenceProcessor_FirstOccurrenceAtStartDate(t *testing.T) {
	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	now := start.Add(time.Hour)
	defs := newMockDefinitionStore(weeklyDef("rec_1", start))
	tasks := newMockTaskCreator()
	pub := newMockPublisher()
	p := newTestProcessor(defs, tasks, pub, 3)

	n, err := p.Process(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 materialized task, got %d", n)
	}

	task := tasks.created[0]
	if task.RecurringTaskID != "rec_1" {
		t.Errorf("recurring_task_id: expected rec_1, got %s", task.RecurringTaskID)
	}
	if task.DueDate == nil || !task.DueDate.Equal(start) {
		t.Errorf("due date: expected %v, got %v", start, task.DueDate)
	}

	def := defs.defs["rec_1"]
	if def.LastCreatedAt == nil || !def.LastCreatedAt.Equal(start) {
		t.Errorf("last_created_at: expected %v, got %v", start, def.LastCreatedAt)
	}
	if want := start.AddDate(0, 0, 7); !def.NextDueAt.Equal(want) {
		t.Errorf("next_due_at: expected %v, got %v", want, def.NextDueAt)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.published))
	}
	if pub.published[0].EventType != types.EventRecurringTaskDue {
		t.Errorf("expected recurring-task-due event, got %s", pub.published[0].EventType)
	}
	if pub.keys[0] != "user_1" {
		t.Errorf("partition key: expected user_1, got %s", pub.keys[0])
	}
}

func TestRecurrenceProcessor_BoundedBackfill(t *testing.T) {
	// Ten missed weekly cycles with a cap of three: exactly three tasks are
	// created, and the schedule re-anchors to now minus one interval.
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	def := weeklyDef("rec_1", start)
	last := start
	def.LastCreatedAt = &last
	def.NextDueAt = start.AddDate(0, 0, 7)
	now := start.AddDate(0, 0, 70).Add(time.Hour) // 10 cycles behind

	defs := newMockDefinitionStore(def)
	tasks := newMockTaskCreator()
	pub := newMockPublisher()
	p := newTestProcessor(defs, tasks, pub, 3)

	n, err := p.Process(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected exactly 3 materialized tasks, got %d", n)
	}
	if len(pub.published) != 3 {
		t.Errorf("expected 3 events, got %d", len(pub.published))
	}

	// The three oldest missed occurrences were materialized in order.
	wantDue := []time.Time{
		start.AddDate(0, 0, 7),
		start.AddDate(0, 0, 14),
		start.AddDate(0, 0, 21),
	}
	for i, task := range tasks.created {
		if !task.DueDate.Equal(wantDue[i]) {
			t.Errorf("task %d due date: expected %v, got %v", i, wantDue[i], task.DueDate)
		}
	}

	// Remaining cycles skipped: cursor jumps to now minus one interval.
	got := defs.defs["rec_1"]
	wantLast := now.AddDate(0, 0, -7)
	if got.LastCreatedAt == nil || !got.LastCreatedAt.Equal(wantLast) {
		t.Errorf("last_created_at: expected %v, got %v", wantLast, got.LastCreatedAt)
	}
	if got.NextDueAt.After(now.AddDate(0, 0, 1)) || got.NextDueAt.Before(wantLast) {
		t.Errorf("next_due_at not re-anchored near now: %v", got.NextDueAt)
	}
}

func TestRecurrenceProcessor_ExpiryDeactivates(t *testing.T) {
	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	def := weeklyDef("rec_1", start)
	end := start.AddDate(0, 0, 3)
	def.EndDate = &end
	now := start.Add(time.Hour)

	defs := newMockDefinitionStore(def)
	tasks := newMockTaskCreator()
	pub := newMockPublisher()
	p := newTestProcessor(defs, tasks, pub, 3)

	n, err := p.Process(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The start occurrence itself is within the end date and fires; the
	// following one exceeds it, expiring the definition.
	if n != 1 {
		t.Errorf("expected 1 materialized task, got %d", n)
	}
	if defs.defs["rec_1"].IsActive {
		t.Error("definition should be deactivated after passing end date")
	}

	// Idempotent expiry: a second run sees an inactive row and does nothing.
	n, err = p.Process(context.Background(), now)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n != 0 {
		t.Errorf("second run: expected 0 tasks, got %d", n)
	}
	if defs.defs["rec_1"].IsActive {
		t.Error("definition must stay inactive")
	}
}

func TestRecurrenceProcessor_LostCASYields(t *testing.T) {
	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	def := weeklyDef("rec_1", start)
	defs := newMockDefinitionStore(def)
	defs.casLoseFor["rec_1"] = true
	tasks := newMockTaskCreator()
	pub := newMockPublisher()
	p := newTestProcessor(defs, tasks, pub, 3)

	n, err := p.Process(context.Background(), start.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One occurrence was materialized before the lost CAS revealed the
	// concurrent processor; the loop then yields instead of continuing.
	if n != 1 {
		t.Errorf("expected 1 task before yielding, got %d", n)
	}
	if defs.advanceCalls != 1 {
		t.Errorf("expected a single advance attempt, got %d", defs.advanceCalls)
	}
}

func TestRecurrenceProcessor_ContinueOnError(t *testing.T) {
	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	defA := weeklyDef("rec_a", start)
	defA.UserID = "user_broken"
	defB := weeklyDef("rec_b", start)
	defB.UserID = "user_ok"

	defs := newMockDefinitionStore(defA, defB)
	tasks := newMockTaskCreator()
	tasks.failFor["user_broken"] = types.NewAppError(types.ErrCodeInternalDB, "insert failed", nil)
	pub := newMockPublisher()
	p := newTestProcessor(defs, tasks, pub, 3)

	n, err := p.Process(context.Background(), start.Add(time.Hour))
	if err != nil {
		t.Fatalf("one failing definition must not abort the cycle: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 task from the healthy definition, got %d", n)
	}

	// The broken definition's cursor is untouched, so the next cycle
	// retries it.
	if defs.defs["rec_a"].LastCreatedAt != nil {
		t.Error("failed definition must not advance")
	}
	if defs.defs["rec_b"].LastCreatedAt == nil {
		t.Error("healthy definition should have advanced")
	}
}

func TestRecurrenceProcessor_PublishFailureStopsAdvance(t *testing.T) {
	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	def := weeklyDef("rec_1", start)
	defs := newMockDefinitionStore(def)
	tasks := newMockTaskCreator()
	pub := newMockPublisher()
	pub.failFor["user_1"] = types.NewAppError(types.ErrCodeUpstreamBroker, "broker down", nil)
	p := newTestProcessor(defs, tasks, pub, 3)

	n, err := p.Process(context.Background(), start.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 confirmed materializations, got %d", n)
	}
	if defs.defs["rec_1"].LastCreatedAt != nil {
		t.Error("cursor must not advance when the event publish failed")
	}
	if defs.advanceCalls != 0 {
		t.Errorf("expected no advance attempts, got %d", defs.advanceCalls)
	}
}
