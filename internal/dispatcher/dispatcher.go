// Package dispatcher consumes event batches from the topic queues and routes
// each event to its registered notification handler, providing the
// at-least-once guarantees the rest of the engine relies on: database-backed
// deduplication, bounded in-process retry with exponential backoff, and
// dead-lettering with acknowledgment so a poisoned event can never wedge its
// partition.
package dispatcher

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"taskpulse/internal/types"
)

// HandlerFunc processes one decoded event.
type HandlerFunc func(ctx context.Context, event types.Event) error

// DedupStore is the processed-events window keyed by event id.
type DedupStore interface {
	WasProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, eventType types.EventType) error
}

// DeadLetterStore parks events that exhausted their retry budget or failed
// permanent validation.
type DeadLetterStore interface {
	InsertIfNotExists(ctx context.Context, e *types.DeadLetterEntry) (bool, error)
}

// Dispatcher is the SQS Lambda handler for the notify worker. Routes are a
// static map: the event type enum is closed, and an unregistered but valid
// type is acknowledged with a warning rather than dead-lettered, since other
// consumer groups may own that topic.
type Dispatcher struct {
	routes      map[types.EventType]HandlerFunc
	dedup       DedupStore
	deadLetters DeadLetterStore
	policy      RetryPolicy
	metrics     Metrics
	logger      types.Logger

	// Injectable clock and sleep for tests.
	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithNowFn overrides the clock used for dead-letter timestamps.
func WithNowFn(fn func() time.Time) Option {
	return func(d *Dispatcher) {
		d.nowFn = fn
	}
}

// WithSleepFn overrides the backoff sleep between handler attempts.
func WithSleepFn(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		d.sleepFn = fn
	}
}

// New creates a Dispatcher with the given route table.
func New(
	routes map[types.EventType]HandlerFunc,
	dedup DedupStore,
	deadLetters DeadLetterStore,
	policy RetryPolicy,
	metrics Metrics,
	logger types.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		routes:      routes,
		dedup:       dedup,
		deadLetters: deadLetters,
		policy:      policy,
		metrics:     metrics,
		logger:      logger,
		nowFn:       func() time.Time { return time.Now().UTC() },
		sleepFn:     sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle processes an SQS event batch. Records are processed strictly in
// batch order (FIFO batches arrive ordered within a message group) and are
// never reordered or re-published to the queue tail.
//
// Only infrastructure failures (dedup store or dead-letter store unreachable)
// are reported as partial batch failures for broker redelivery. Handler
// failures are resolved inside processRecord: retried, then dead-lettered
// and acknowledged.
func (d *Dispatcher) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := d.processRecord(ctx, record); err != nil {
			d.logger.Error("failed to process event record",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processRecord runs one event through decode, dedup, dispatch, retry, and
// dead-letter stages. A nil return acknowledges the message.
func (d *Dispatcher) processRecord(ctx context.Context, record events.SQSMessage) error {
	if sent, ok := record.Attributes["SentTimestamp"]; ok {
		if ms, err := strconv.ParseInt(sent, 10, 64); err == nil {
			d.metrics.RecordQueueLag(ctx, d.nowFn().Sub(time.UnixMilli(ms)))
		}
	}

	event, err := types.DecodeEvent([]byte(record.Body))
	if err != nil {
		// Permanent validation failure: park it and acknowledge. The entry id
		// derives from the broker message id because a malformed body may not
		// contain a usable event id.
		d.logger.Error("dropping undecodable event",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return d.deadLetter(ctx, "dlq_msg_"+record.MessageId, "unknown", []byte(record.Body), 0, err)
	}

	logger := d.logger.With(
		"event_id", event.EventID,
		"event_type", string(event.EventType),
	)

	processed, err := d.dedup.WasProcessed(ctx, event.EventID)
	if err != nil {
		// Dedup store down: report the record as failed so the broker
		// redelivers it, rather than risking a duplicate side effect.
		return err
	}
	if processed {
		logger.Info("skipping already-processed event")
		d.metrics.RecordOutcome(ctx, event.EventType, OutcomeDuplicate)
		return nil
	}

	handler, ok := d.routes[event.EventType]
	if !ok {
		logger.Warn("no handler registered for event type, acknowledging")
		return nil
	}

	start := d.nowFn()
	handlerErr := d.runWithRetry(ctx, handler, event, logger)
	d.metrics.RecordHandlerLatency(ctx, event.EventType, d.nowFn().Sub(start))

	if handlerErr != nil {
		logger.Error("handler exhausted retries, dead-lettering",
			"error", handlerErr.Error(),
		)
		if err := d.deadLetter(ctx, "dlq_"+event.EventID, event.EventType.Topic(),
			[]byte(record.Body), d.policy.MaxAttempts, handlerErr); err != nil {
			return err
		}
		d.metrics.RecordOutcome(ctx, event.EventType, OutcomeDeadLettered)
		return nil
	}

	// Mark-after-success. If the mark itself fails the event is still
	// acknowledged: re-running the handler on a forced redelivery would be a
	// guaranteed duplicate, while a lost dedup row only risks one.
	if err := d.dedup.MarkProcessed(ctx, event.EventID, event.EventType); err != nil {
		logger.Error("failed to mark event processed", "error", err.Error())
	}

	d.metrics.RecordOutcome(ctx, event.EventType, OutcomeProcessed)
	return nil
}

// runWithRetry invokes the handler up to MaxAttempts times, backing off
// between attempts. Permanent errors short-circuit the loop; retrying a
// malformed payload cannot succeed.
func (d *Dispatcher) runWithRetry(ctx context.Context, handler HandlerFunc, event types.Event, logger types.Logger) error {
	var lastErr error

	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		lastErr = handler(ctx, event)
		if lastErr == nil {
			return nil
		}

		if !types.IsRetryable(lastErr) {
			logger.Warn("handler returned permanent error",
				"attempt", attempt,
				"error", lastErr.Error(),
			)
			return lastErr
		}

		if attempt < d.policy.MaxAttempts {
			delay := CalculateNextRetry(d.policy, attempt)
			logger.Warn("handler failed, retrying",
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
				"error", lastErr.Error(),
			)
			if err := d.sleepFn(ctx, delay); err != nil {
				return lastErr
			}
		}
	}

	return lastErr
}

// deadLetter writes an idempotent dead-letter entry. The deterministic id
// means an event that fails again after a broker redelivery updates nothing:
// exactly one entry per event, ever.
func (d *Dispatcher) deadLetter(ctx context.Context, id, topic string, body []byte, attempts int, cause error) error {
	now := d.nowFn()
	created, err := d.deadLetters.InsertIfNotExists(ctx, &types.DeadLetterEntry{
		ID:            id,
		OriginalEvent: body,
		Topic:         topic,
		LastError:     cause.Error(),
		RetryCount:    attempts,
		FirstFailedAt: now,
		LastAttemptAt: now,
	})
	if err != nil {
		// Could not park the event; fail the record so the broker redelivers
		// instead of silently dropping it.
		return err
	}
	if created {
		d.logger.Warn("dead-letter entry created", "dead_letter_id", id, "topic", topic)
	}
	return nil
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
