package external

import (
	"context"

	"taskpulse/internal/types"
)

// StubNotificationSender implements NotificationSender by logging calls and
// succeeding unconditionally. Used when APP_ENV=local so workers can run
// without real notifier credentials.
type StubNotificationSender struct {
	logger types.Logger
}

// NewStubNotificationSender creates a new StubNotificationSender.
func NewStubNotificationSender(logger types.Logger) *StubNotificationSender {
	return &StubNotificationSender{logger: logger}
}

func (s *StubNotificationSender) Send(ctx context.Context, req types.NotificationRequest) error {
	s.logger.Info("stub: notification send called",
		"to", req.To,
		"subject", req.Subject,
		"template", req.Template,
	)
	return nil
}

var _ NotificationSender = (*StubNotificationSender)(nil)
