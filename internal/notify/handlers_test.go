package notify

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"taskpulse/internal/types"
)

// mockSender records every notification request it receives.
type mockSender struct {
	sent      []types.NotificationRequest
	returnErr error
}

func (m *mockSender) Send(_ context.Context, req types.NotificationRequest) error {
	m.sent = append(m.sent, req)
	return m.returnErr
}

// mockEmailLookup maps user ids to addresses.
type mockEmailLookup struct {
	emails    map[string]string
	returnErr error
}

func (m *mockEmailLookup) GetUserEmail(_ context.Context, userID string) (string, error) {
	if m.returnErr != nil {
		return "", m.returnErr
	}
	email, ok := m.emails[userID]
	if !ok {
		return "", types.NewAppError(types.ErrCodeNotFoundTask, "user not found", nil)
	}
	return email, nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (nopLogger) Warn(string, ...any)        {}
func (l nopLogger) With(...any) types.Logger { return l }

func newTestHandlers(sender *mockSender) *Handlers {
	return NewHandlers(sender, &mockEmailLookup{
		emails: map[string]string{"user_1": "alice@example.com"},
	}, nopLogger{})
}

func encodeEvent(t *testing.T, eventType types.EventType, data any) types.Event {
	t.Helper()
	e, err := types.NewEvent(eventType, data)
	if err != nil {
		t.Fatalf("failed to build event: %v", err)
	}
	return e
}

func TestHandleTaskDueSoon_BuildsReminderPayload(t *testing.T) {
	sender := &mockSender{}
	h := newTestHandlers(sender)

	due := time.Date(2025, 5, 20, 17, 0, 0, 0, time.UTC)
	event := encodeEvent(t, types.EventTaskDueSoon, types.TaskDueSoonData{
		TaskID:        "task_1",
		UserID:        "user_1",
		Title:         "submit expense report",
		DueDate:       due,
		HoursUntilDue: 6,
		Priority:      types.PriorityHigh,
	})

	if err := h.HandleTaskDueSoon(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sender.sent))
	}

	req := sender.sent[0]
	if req.To != "alice@example.com" {
		t.Errorf("to: expected alice@example.com, got %s", req.To)
	}
	if req.Template != TemplateTaskDueSoon {
		t.Errorf("template: expected %s, got %s", TemplateTaskDueSoon, req.Template)
	}
	if !strings.Contains(req.Subject, "submit expense report") {
		t.Errorf("subject missing task title: %q", req.Subject)
	}
	if !strings.Contains(req.Subject, "6 hours") {
		t.Errorf("subject missing hours remaining: %q", req.Subject)
	}
	if req.Context["hours_until_due"] != 6 {
		t.Errorf("context.hours_until_due: expected 6, got %v", req.Context["hours_until_due"])
	}
	if req.Context["task_id"] != "task_1" {
		t.Errorf("context.task_id: expected task_1, got %v", req.Context["task_id"])
	}
}

func TestHandleRecurringTaskDue_IncludesRecurrenceMetadata(t *testing.T) {
	sender := &mockSender{}
	h := newTestHandlers(sender)

	event := encodeEvent(t, types.EventRecurringTaskDue, types.RecurringTaskDueData{
		TaskID:          "task_2",
		UserID:          "user_1",
		Title:           "water the plants",
		DueDate:         time.Date(2025, 5, 21, 8, 0, 0, 0, time.UTC),
		Priority:        types.PriorityLow,
		RecurringTaskID: "rec_9",
		RecurrenceType:  types.RecurrenceWeekly,
	})

	if err := h.HandleRecurringTaskDue(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := sender.sent[0]
	if req.Template != TemplateRecurringTaskDue {
		t.Errorf("template: expected %s, got %s", TemplateRecurringTaskDue, req.Template)
	}
	if req.Context["recurring_task_id"] != "rec_9" {
		t.Errorf("context.recurring_task_id: expected rec_9, got %v", req.Context["recurring_task_id"])
	}
	if req.Context["recurrence_type"] != "weekly" {
		t.Errorf("context.recurrence_type: expected weekly, got %v", req.Context["recurrence_type"])
	}
}

func TestHandleTaskCompleted_OnTimeIsCongratulatory(t *testing.T) {
	sender := &mockSender{}
	h := newTestHandlers(sender)

	event := encodeEvent(t, types.EventTaskCompleted, types.TaskCompletedData{
		TaskID:      "task_3",
		UserID:      "user_1",
		Title:       "file taxes",
		CompletedAt: time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC),
		WasOverdue:  false,
	})

	if err := h.HandleTaskCompleted(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := sender.sent[0]
	if req.Template != TemplateTaskCompleted {
		t.Errorf("template: expected %s, got %s", TemplateTaskCompleted, req.Template)
	}
	if !strings.Contains(req.Subject, "Nice work") {
		t.Errorf("on-time completion subject not congratulatory: %q", req.Subject)
	}
	if req.Context["was_overdue"] != false {
		t.Errorf("context.was_overdue: expected false, got %v", req.Context["was_overdue"])
	}
}

func TestHandleTaskCompleted_OverdueIsNeutral(t *testing.T) {
	sender := &mockSender{}
	h := newTestHandlers(sender)

	event := encodeEvent(t, types.EventTaskCompleted, types.TaskCompletedData{
		TaskID:      "task_4",
		UserID:      "user_1",
		Title:       "file taxes",
		CompletedAt: time.Date(2025, 4, 20, 12, 0, 0, 0, time.UTC),
		WasOverdue:  true,
	})

	if err := h.HandleTaskCompleted(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := sender.sent[0]
	if req.Template != TemplateTaskCompletedLate {
		t.Errorf("template: expected %s, got %s", TemplateTaskCompletedLate, req.Template)
	}
	if strings.Contains(req.Subject, "Nice work") {
		t.Errorf("overdue completion subject must be neutral: %q", req.Subject)
	}
	if req.Context["was_overdue"] != true {
		t.Errorf("context.was_overdue: expected true, got %v", req.Context["was_overdue"])
	}
}

func TestHandlers_SenderErrorPropagates(t *testing.T) {
	sender := &mockSender{returnErr: types.NewAppError(
		types.ErrCodeUpstreamNotifier, "notifier down", nil)}
	h := newTestHandlers(sender)

	event := encodeEvent(t, types.EventTaskDueSoon, types.TaskDueSoonData{
		TaskID:        "task_5",
		UserID:        "user_1",
		Title:         "call dentist",
		DueDate:       time.Now().UTC(),
		HoursUntilDue: 2,
	})

	err := h.HandleTaskDueSoon(context.Background(), event)
	if err == nil {
		t.Fatal("expected sender error to propagate")
	}
	if !types.IsRetryable(err) {
		t.Error("notifier outage must propagate as retryable")
	}
}

func TestHandlers_EmailLookupErrorPropagates(t *testing.T) {
	sender := &mockSender{}
	h := NewHandlers(sender, &mockEmailLookup{
		returnErr: fmt.Errorf("connection refused"),
	}, nopLogger{})

	event := encodeEvent(t, types.EventTaskCompleted, types.TaskCompletedData{
		TaskID: "task_6",
		UserID: "user_1",
		Title:  "anything",
	})

	if err := h.HandleTaskCompleted(context.Background(), event); err == nil {
		t.Fatal("expected lookup error to propagate")
	}
	if len(sender.sent) != 0 {
		t.Errorf("no notification must be sent when lookup fails, got %d", len(sender.sent))
	}
}

func TestHandlers_MalformedPayloadIsPermanent(t *testing.T) {
	sender := &mockSender{}
	h := newTestHandlers(sender)

	event := types.Event{
		EventID:   "evt_bad",
		EventType: types.EventTaskDueSoon,
		Timestamp: time.Now().UTC(),
		Data:      []byte(`{"hours_until_due": "not-a-number"}`),
	}

	err := h.HandleTaskDueSoon(context.Background(), event)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if types.IsRetryable(err) {
		t.Error("malformed payload must not be retryable")
	}
	if len(sender.sent) != 0 {
		t.Errorf("no notification must be sent for malformed payload, got %d", len(sender.sent))
	}
}
