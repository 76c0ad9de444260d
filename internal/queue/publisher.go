// Package queue provides the event publishing side of the broker: typed
// events are serialized to the JSON envelope and sent to per-topic SQS FIFO
// queues. Ordering is scoped by partition key (MessageGroupId) and the
// envelope's event id doubles as the broker-level deduplication id.
package queue

import (
	"context"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"taskpulse/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends event envelopes to topic queues. Each topic maps to one
// FIFO queue URL; events sharing a partition key (the user id) are delivered
// in publish order, while distinct keys flow in parallel.
//
// Publish is at-least-once: a send that fails after the broker accepted it
// may be repeated on retry, but the deduplication id (the event id, stable
// across retries) collapses such duplicates inside the broker's dedup
// window. Consumers still carry their own dedup store for redeliveries
// beyond that window.
type Publisher struct {
	client    SQSSender
	topicURLs map[string]string
	logger    types.Logger

	maxAttempts int
	baseDelay   time.Duration

	// sleepFn is swapped in tests to avoid real waiting.
	sleepFn func(ctx context.Context, d time.Duration) error
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublishRetry overrides the send retry budget and base backoff delay.
func WithPublishRetry(maxAttempts int, baseDelay time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.maxAttempts = maxAttempts
		p.baseDelay = baseDelay
	}
}

// WithSleepFn overrides the backoff sleep. Tests inject a no-op.
func WithSleepFn(fn func(ctx context.Context, d time.Duration) error) PublisherOption {
	return func(p *Publisher) {
		p.sleepFn = fn
	}
}

// NewPublisher creates a Publisher over the given topic-to-queue-URL map.
func NewPublisher(client SQSSender, topicURLs map[string]string, logger types.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client:      client,
		topicURLs:   topicURLs,
		logger:      logger,
		maxAttempts: 3,
		baseDelay:   200 * time.Millisecond,
		sleepFn:     sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish serializes the event and sends it to the queue backing its topic.
// The partition key becomes the FIFO MessageGroupId and the event id becomes
// the MessageDeduplicationId.
//
// Transient send failures are retried with exponential backoff and jitter up
// to the configured attempt budget. Marshal failures and unknown topics are
// permanent and returned immediately.
func (p *Publisher) Publish(ctx context.Context, event types.Event, partitionKey string) error {
	topic := event.EventType.Topic()
	queueURL, ok := p.topicURLs[topic]
	if !ok {
		return types.NewAppError(types.ErrCodeValidationInvalidField,
			"no queue configured for topic "+topic, nil)
	}

	body, err := event.Encode()
	if err != nil {
		return err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:               aws.String(queueURL),
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(partitionKey),
		MessageDeduplicationId: aws.String(event.EventID),
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		_, lastErr = p.client.SendMessage(ctx, input)
		if lastErr == nil {
			p.logger.Info("event published",
				"event_id", event.EventID,
				"event_type", string(event.EventType),
				"topic", topic,
				"partition_key", partitionKey,
				"attempt", attempt,
			)
			return nil
		}

		if attempt < p.maxAttempts {
			delay := backoffDelay(p.baseDelay, attempt)
			p.logger.Warn("event publish failed, retrying",
				"event_id", event.EventID,
				"topic", topic,
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
				"error", lastErr.Error(),
			)
			if err := p.sleepFn(ctx, delay); err != nil {
				return types.NewAppError(types.ErrCodeUpstreamBroker,
					"publish aborted by context", err)
			}
		}
	}

	p.logger.Error("event publish exhausted retries",
		"event_id", event.EventID,
		"topic", topic,
		"attempts", p.maxAttempts,
		"error", lastErr.Error(),
	)
	return types.NewAppError(types.ErrCodeUpstreamBroker,
		"failed to publish event after retries", lastErr)
}

// backoffDelay computes baseDelay * 2^(attempt-1) with up to 25% jitter.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// sleepContext blocks for d or until the context is canceled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
