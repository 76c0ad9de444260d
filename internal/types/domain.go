// Package types defines the shared domain model for the taskpulse scheduling
// and notification engine: recurring task definitions, the subset of Task
// fields this engine touches, the event envelope and payloads, and the
// dead-letter record. Other packages depend on types; types depends on
// nothing internal.
package types

import "time"

// RecurrenceType enumerates the supported recurrence units.
type RecurrenceType string

const (
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
	RecurrenceYearly  RecurrenceType = "yearly"
)

// Valid reports whether the recurrence type is one of the known units.
func (r RecurrenceType) Valid() bool {
	switch r {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly:
		return true
	}
	return false
}

// Priority is the task priority level carried through event payloads.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

// RecurringTaskDefinition is the template from which concrete task occurrences
// are materialized. The engine mutates only the scheduling cursor fields
// (LastCreatedAt, NextDueAt, IsActive); everything else is owned by the CRUD
// subsystem. Definitions are never deleted by this engine, only deactivated.
//
// Invariants:
//   - NextDueAt >= StartDate.
//   - Once EndDate is passed, IsActive is false and NextDueAt is frozen.
type RecurringTaskDefinition struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	Priority           Priority       `json:"priority"`
	RecurrenceType     RecurrenceType `json:"recurrence_type"`
	RecurrenceInterval int            `json:"recurrence_interval"`
	StartDate          time.Time      `json:"start_date"`
	EndDate            *time.Time     `json:"end_date,omitempty"`
	LastCreatedAt      *time.Time     `json:"last_created_at,omitempty"`
	NextDueAt          time.Time      `json:"next_due_at"`
	IsActive           bool           `json:"is_active"`
}

// Task is the subset of the task row this engine reads and writes. The CRUD
// subsystem owns the full row; the engine creates rows for recurring
// occurrences and flips the Notified flag, nothing else.
type Task struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Priority        Priority   `json:"priority"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	Completed       bool       `json:"completed"`
	Notified        bool       `json:"notified"`
	RecurringTaskID string     `json:"recurring_task_id,omitempty"`
}

// NotificationRequest is the payload POSTed to the notification delivery
// service. Template names a delivery-side template; Context carries its
// variables.
type NotificationRequest struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Context  map[string]any `json:"context"`
}

// DeadLetterEntry records an event that exhausted its retry budget (or failed
// permanent validation) and is parked for operator inspection. Entries are
// append-only; operators flip Resolved via the ops API.
type DeadLetterEntry struct {
	ID            string    `json:"id"`
	OriginalEvent []byte    `json:"original_event"`
	Topic         string    `json:"topic"`
	LastError     string    `json:"last_error"`
	RetryCount    int       `json:"retry_count"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	Resolved      bool      `json:"resolved"`
}
