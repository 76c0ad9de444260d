package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewEvent_PopulatesEnvelope(t *testing.T) {
	due := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	event, err := NewEvent(EventTaskDueSoon, TaskDueSoonData{
		TaskID:        "task_1",
		UserID:        "user_a",
		Title:         "pay rent",
		DueDate:       due,
		HoursUntilDue: 12,
		Priority:      PriorityHigh,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if event.EventID == "" {
		t.Error("event id must be generated")
	}
	if event.EventType != EventTaskDueSoon {
		t.Errorf("event type = %s, want %s", event.EventType, EventTaskDueSoon)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp must be set")
	}

	var data TaskDueSoonData
	if err := event.DecodeData(&data); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if data.TaskID != "task_1" || data.HoursUntilDue != 12 {
		t.Errorf("payload round-trip mismatch: %+v", data)
	}
}

func TestNewEvent_RejectsUnknownType(t *testing.T) {
	_, err := NewEvent(EventType("task-deleted"), nil)
	if err == nil {
		t.Fatal("expected an error for unknown event type")
	}

	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != ErrCodeEventUnknownType {
		t.Errorf("expected %s, got %v", ErrCodeEventUnknownType, err)
	}
}

func TestEvent_WireFormatIsSnakeCase(t *testing.T) {
	event, err := NewEvent(EventTaskCompleted, TaskCompletedData{
		TaskID:      "task_1",
		UserID:      "user_a",
		Title:       "file taxes",
		CompletedAt: time.Date(2025, 4, 10, 15, 0, 0, 0, time.UTC),
		WasOverdue:  true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body, err := event.Encode()
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}

	for _, key := range []string{`"event_id"`, `"event_type"`, `"timestamp"`, `"data"`, `"was_overdue"`, `"completed_at"`} {
		if !strings.Contains(string(body), key) {
			t.Errorf("wire body missing %s: %s", key, body)
		}
	}
}

func TestDecodeEvent_RoundTrip(t *testing.T) {
	original, err := NewEvent(EventRecurringTaskDue, RecurringTaskDueData{
		TaskID:          "task_1",
		UserID:          "user_a",
		Title:           "weekly review",
		DueDate:         time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		Priority:        PriorityMedium,
		RecurringTaskID: "rec_1",
		RecurrenceType:  RecurrenceWeekly,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body, err := original.Encode()
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}

	decoded, err := DecodeEvent(body)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if decoded.EventID != original.EventID {
		t.Errorf("event id changed in transit: %s != %s", decoded.EventID, original.EventID)
	}

	var data RecurringTaskDueData
	if err := decoded.DecodeData(&data); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if data.RecurrenceType != RecurrenceWeekly || data.RecurringTaskID != "rec_1" {
		t.Errorf("payload mismatch: %+v", data)
	}
}

func TestDecodeEvent_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		body string
		code ErrorCode
	}{
		{"not json", `{{{`, ErrCodeEventMalformed},
		{"missing event id", `{"event_type":"task-due-soon","data":{"x":1}}`, ErrCodeEventMalformed},
		{"unknown type", `{"event_id":"evt_1","event_type":"task-deleted","data":{"x":1}}`, ErrCodeEventUnknownType},
		{"missing data", `{"event_id":"evt_1","event_type":"task-due-soon"}`, ErrCodeEventMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tc.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			var appErr *AppError
			if !errors.As(err, &appErr) || appErr.Code != tc.code {
				t.Errorf("expected %s, got %v", tc.code, err)
			}
			if IsRetryable(err) {
				t.Error("decode failures must be permanent")
			}
		})
	}
}

func TestEventType_Topic(t *testing.T) {
	all := []EventType{
		EventTaskCreated, EventTaskUpdated, EventTaskCompleted,
		EventTaskDueSoon, EventRecurringTaskDue,
	}

	seen := map[string]bool{}
	for _, et := range all {
		if !et.Valid() {
			t.Errorf("%s should be valid", et)
		}
		topic := et.Topic()
		if seen[topic] {
			t.Errorf("duplicate topic %s", topic)
		}
		seen[topic] = true
	}

	if EventType("task-deleted").Valid() {
		t.Error("unknown type should be invalid")
	}
}

func TestEvent_DataIsRawUntilDecoded(t *testing.T) {
	// The envelope must not force eager payload decoding: data stays raw JSON
	// so the dispatcher can route on type alone.
	body := []byte(`{"event_id":"evt_1","event_type":"task-created","timestamp":"2025-06-01T09:00:00Z","data":{"task_id":"task_1","user_id":"user_a","title":"x","priority":1}}`)

	event, err := DecodeEvent(body)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(event.Data, &raw); err != nil {
		t.Fatalf("data is not raw JSON: %v", err)
	}
	if _, ok := raw["task_id"]; !ok {
		t.Error("payload fields lost")
	}
}
