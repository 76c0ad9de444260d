// Package notify builds notification payloads from consumed events and hands
// them to the delivery service. Handlers are pure with respect to the event
// payload: everything in the outgoing message comes from the event itself,
// except the recipient address, which is resolved through EmailLookup.
package notify

import (
	"context"
	"fmt"

	"taskpulse/internal/types"
)

// Template names understood by the delivery service.
const (
	TemplateTaskDueSoon       = "task_due_soon"
	TemplateRecurringTaskDue  = "recurring_task_due"
	TemplateTaskCompleted     = "task_completed"
	TemplateTaskCompletedLate = "task_completed_late"
)

// Sender delivers a built notification. Satisfied by the notifier client and
// its local stub.
type Sender interface {
	Send(ctx context.Context, req types.NotificationRequest) error
}

// EmailLookup resolves a user id to a notification address.
type EmailLookup interface {
	GetUserEmail(ctx context.Context, userID string) (string, error)
}

// Handlers holds the per-event-type notification builders the dispatcher
// routes to.
type Handlers struct {
	sender Sender
	emails EmailLookup
	logger types.Logger
}

// NewHandlers creates the notification handler set.
func NewHandlers(sender Sender, emails EmailLookup, logger types.Logger) *Handlers {
	return &Handlers{
		sender: sender,
		emails: emails,
		logger: logger,
	}
}

// HandleTaskDueSoon builds a reminder payload (title, due time, priority,
// hours remaining) and sends it.
func (h *Handlers) HandleTaskDueSoon(ctx context.Context, event types.Event) error {
	var data types.TaskDueSoonData
	if err := event.DecodeData(&data); err != nil {
		return err
	}

	to, err := h.emails.GetUserEmail(ctx, data.UserID)
	if err != nil {
		return err
	}

	req := types.NotificationRequest{
		To:       to,
		Subject:  fmt.Sprintf("Reminder: %q is due in %d hours", data.Title, data.HoursUntilDue),
		Template: TemplateTaskDueSoon,
		Context: map[string]any{
			"task_id":         data.TaskID,
			"task_title":      data.Title,
			"due_date":        data.DueDate,
			"hours_until_due": data.HoursUntilDue,
			"priority":        data.Priority,
		},
	}

	return h.send(ctx, event, req)
}

// HandleRecurringTaskDue builds a new-occurrence payload annotated with the
// recurrence metadata and sends it.
func (h *Handlers) HandleRecurringTaskDue(ctx context.Context, event types.Event) error {
	var data types.RecurringTaskDueData
	if err := event.DecodeData(&data); err != nil {
		return err
	}

	to, err := h.emails.GetUserEmail(ctx, data.UserID)
	if err != nil {
		return err
	}

	req := types.NotificationRequest{
		To:       to,
		Subject:  fmt.Sprintf("Recurring task due: %q", data.Title),
		Template: TemplateRecurringTaskDue,
		Context: map[string]any{
			"task_id":           data.TaskID,
			"task_title":        data.Title,
			"due_date":          data.DueDate,
			"priority":          data.Priority,
			"recurring_task_id": data.RecurringTaskID,
			"recurrence_type":   string(data.RecurrenceType),
		},
	}

	return h.send(ctx, event, req)
}

// HandleTaskCompleted builds the completion payload. The wording branch is
// deliberate behavior, not cosmetics: an on-time completion gets the
// congratulatory template and subject, an overdue one gets the neutral
// variant.
func (h *Handlers) HandleTaskCompleted(ctx context.Context, event types.Event) error {
	var data types.TaskCompletedData
	if err := event.DecodeData(&data); err != nil {
		return err
	}

	to, err := h.emails.GetUserEmail(ctx, data.UserID)
	if err != nil {
		return err
	}

	var subject, template string
	if data.WasOverdue {
		subject = fmt.Sprintf("Task completed: %q", data.Title)
		template = TemplateTaskCompletedLate
	} else {
		subject = fmt.Sprintf("Nice work! You completed %q on time", data.Title)
		template = TemplateTaskCompleted
	}

	req := types.NotificationRequest{
		To:       to,
		Subject:  subject,
		Template: template,
		Context: map[string]any{
			"task_id":      data.TaskID,
			"task_title":   data.Title,
			"completed_at": data.CompletedAt,
			"was_overdue":  data.WasOverdue,
		},
	}

	return h.send(ctx, event, req)
}

func (h *Handlers) send(ctx context.Context, event types.Event, req types.NotificationRequest) error {
	if err := h.sender.Send(ctx, req); err != nil {
		return err
	}
	h.logger.Info("notification handled",
		"event_id", event.EventID,
		"event_type", string(event.EventType),
		"template", req.Template,
	)
	return nil
}
