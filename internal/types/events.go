package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the five task lifecycle event types. The set is closed:
// the dispatcher routes via a static map and rejects anything else as a
// permanent validation failure.
type EventType string

const (
	EventTaskCreated      EventType = "task-created"
	EventTaskUpdated      EventType = "task-updated"
	EventTaskCompleted    EventType = "task-completed"
	EventTaskDueSoon      EventType = "task-due-soon"
	EventRecurringTaskDue EventType = "recurring-task-due"
)

// Valid reports whether the event type is one of the five known types.
func (t EventType) Valid() bool {
	switch t {
	case EventTaskCreated, EventTaskUpdated, EventTaskCompleted,
		EventTaskDueSoon, EventRecurringTaskDue:
		return true
	}
	return false
}

// Topic returns the logical broker topic for this event type. Topics share
// the event type names; the queue layer maps them to physical queue URLs.
func (t EventType) Topic() string {
	return string(t)
}

// Event is the transport envelope shared by all event types. JSON tags use
// snake_case to keep the wire schema stable across producers and consumers.
//
// EventID is generated by the publisher at event construction time and is the
// idempotency key for the whole pipeline: broker-level deduplication, the
// dispatcher's processed-events table, and dead-letter correlation all key on
// it. Publish retries of the same logical occurrence reuse the envelope (and
// therefore the ID), so redelivery is distinguishable from duplication.
type Event struct {
	EventID   string          `json:"event_id"`
	EventType EventType       `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// TaskCreatedData is the payload for task-created events.
type TaskCreatedData struct {
	TaskID   string     `json:"task_id"`
	UserID   string     `json:"user_id"`
	Title    string     `json:"title"`
	DueDate  *time.Time `json:"due_date,omitempty"`
	Priority Priority   `json:"priority"`
}

// TaskUpdatedData is the payload for task-updated events.
type TaskUpdatedData struct {
	TaskID   string     `json:"task_id"`
	UserID   string     `json:"user_id"`
	Title    string     `json:"title"`
	DueDate  *time.Time `json:"due_date,omitempty"`
	Priority Priority   `json:"priority"`
}

// TaskCompletedData is the payload for task-completed events. WasOverdue
// drives the congratulatory-versus-neutral tone branch in the completion
// handler and is computed by the producer against the task's due date.
type TaskCompletedData struct {
	TaskID      string    `json:"task_id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	CompletedAt time.Time `json:"completed_at"`
	WasOverdue  bool      `json:"was_overdue"`
}

// TaskDueSoonData is the payload for task-due-soon events.
type TaskDueSoonData struct {
	TaskID        string    `json:"task_id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	DueDate       time.Time `json:"due_date"`
	HoursUntilDue int       `json:"hours_until_due"`
	Priority      Priority  `json:"priority"`
}

// RecurringTaskDueData is the payload for recurring-task-due events, emitted
// once per materialized occurrence.
type RecurringTaskDueData struct {
	TaskID          string         `json:"task_id"`
	UserID          string         `json:"user_id"`
	Title           string         `json:"title"`
	DueDate         time.Time      `json:"due_date"`
	Priority        Priority       `json:"priority"`
	RecurringTaskID string         `json:"recurring_task_id"`
	RecurrenceType  RecurrenceType `json:"recurrence_type"`
}

// NewEvent constructs an envelope with a fresh event ID and the current UTC
// timestamp, serializing the typed payload into Data. The ID is generated
// here, once, so that the publisher's retry loop re-sends the identical
// envelope rather than minting a duplicate.
func NewEvent(eventType EventType, data any) (Event, error) {
	if !eventType.Valid() {
		return Event{}, NewAppError(ErrCodeEventUnknownType,
			fmt.Sprintf("unknown event type %q", eventType), nil)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, NewAppError(ErrCodeEventMalformed,
			"failed to marshal event payload", err)
	}

	return Event{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// DecodeEvent parses a raw message body into an Event envelope, validating
// the fields every consumer relies on. Failures are permanent validation
// errors: the dispatcher routes them straight to the dead-letter store
// instead of retrying.
func DecodeEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, NewAppError(ErrCodeEventMalformed,
			"failed to unmarshal event envelope", err)
	}
	if ev.EventID == "" {
		return Event{}, NewAppError(ErrCodeEventMalformed,
			"event envelope missing event_id", nil)
	}
	if !ev.EventType.Valid() {
		return Event{}, NewAppError(ErrCodeEventUnknownType,
			fmt.Sprintf("unknown event type %q", ev.EventType), nil)
	}
	if len(ev.Data) == 0 {
		return Event{}, NewAppError(ErrCodeEventMalformed,
			"event envelope missing data", nil)
	}
	return ev, nil
}

// DecodeData unmarshals the envelope's payload into the given typed struct.
func (e Event) DecodeData(dst any) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return NewAppError(ErrCodeEventMalformed,
			fmt.Sprintf("failed to decode %s payload", e.EventType), err)
	}
	return nil
}

// Encode serializes the full envelope for transport.
func (e Event) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, NewAppError(ErrCodeEventMalformed,
			"failed to marshal event envelope", err)
	}
	return body, nil
}
