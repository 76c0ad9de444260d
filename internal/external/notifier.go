package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskpulse/internal/types"
)

// NotificationSender is the outbound port for notification delivery. The
// event handlers depend on this interface; production wires NotifierClient
// and local runs wire the stub.
type NotificationSender interface {
	Send(ctx context.Context, req types.NotificationRequest) error
}

// NotifierClientConfig holds the configuration for creating a NotifierClient.
type NotifierClientConfig struct {
	EndpointURL string
	Token       types.SecretString
	Logger      types.Logger
}

// NotifierClient delivers notifications by POSTing to the external
// notification service through BaseClient, inheriting the platform's
// resilience behavior (circuit breaker, retries, error mapping).
//
// The client treats any 2xx as accepted. 429 and 5xx are retried by
// BaseClient and surface as retryable upstream errors; other 4xx responses
// mean the request itself is bad and are permanent.
type NotifierClient struct {
	base        *BaseClient
	endpointURL string
	token       types.SecretString
	logger      types.Logger
}

// NewNotifierClient creates a NotifierClient. The httpClient timeout bounds
// each individual attempt, not the whole retry sequence.
func NewNotifierClient(httpClient *http.Client, cfg NotifierClientConfig) *NotifierClient {
	base := NewBaseClient(
		httpClient,
		"notifier",
		DefaultRetryPolicy(),
		"TaskPulse/1.0",
	)
	return NewNotifierClientWithBase(base, cfg)
}

// NewNotifierClientWithBase creates a NotifierClient with a pre-configured
// BaseClient. Useful in tests to disable retries or inject a sleep func.
func NewNotifierClientWithBase(base *BaseClient, cfg NotifierClientConfig) *NotifierClient {
	return &NotifierClient{
		base:        base,
		endpointURL: strings.TrimSuffix(cfg.EndpointURL, "/"),
		token:       cfg.Token,
		logger:      cfg.Logger,
	}
}

// Send POSTs the notification request as JSON with bearer authentication.
//
// Error mapping:
//   - 429 Too Many Requests -> handled by BaseClient (retry + ErrCodeUpstreamRateLimited)
//   - 5xx -> handled by BaseClient (retry + ErrCodeUpstreamUnavailable)
//   - Other 4xx -> permanent ErrCodeValidationInvalidField (the payload was rejected)
func (c *NotifierClient) Send(ctx context.Context, req types.NotificationRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal notification payload",
			err,
		)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create notification request",
			err,
		)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token.Unmask())

	start := time.Now()
	resp, err := c.base.Do(httpReq)
	if err != nil {
		return c.wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Info("notification delivered",
			"to", req.To,
			"template", req.Template,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}

	return c.handleErrorResponse(resp)
}

// handleErrorResponse maps a non-2xx notifier response to a domain error.
// Only 4xx statuses reach here; BaseClient has already converted 429/5xx
// into AppErrors.
func (c *NotifierClient) handleErrorResponse(resp *http.Response) error {
	snippet := readBodySnippet(resp.Body)
	return types.NewAppError(
		types.ErrCodeValidationInvalidField,
		fmt.Sprintf("notifier rejected request (%d): %s", resp.StatusCode, snippet),
		nil,
	)
}

// wrapTransportError passes through AppErrors from BaseClient (they already
// carry the right upstream code) and wraps anything else as a notifier
// outage.
func (c *NotifierClient) wrapTransportError(err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamNotifier,
		"notification request failed",
		err,
	)
}

// readBodySnippet returns up to 512 bytes of the response body for error
// messages.
func readBodySnippet(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return "<unreadable body>"
	}
	return strings.TrimSpace(string(b))
}

// Compile-time assertion that NotifierClient satisfies NotificationSender.
var _ NotificationSender = (*NotifierClient)(nil)
