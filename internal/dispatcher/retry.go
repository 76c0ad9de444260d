package dispatcher

import "time"

// RetryPolicy bounds the in-process retry loop for handler failures. Retries
// happen inside the current delivery (the consumer sleeps between attempts)
// so that FIFO ordering within the partition is preserved; re-publishing to
// the tail of the queue would reorder the user's events.
type RetryPolicy struct {
	// MaxAttempts is the total number of handler invocations, including the
	// first. After MaxAttempts failures the event is dead-lettered.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration
	// BackoffFactor multiplies the delay per attempt. Values <= 1 disable
	// growth.
	BackoffFactor float64
}

// DefaultRetryPolicy bounds total in-process wait to a few seconds so a
// poisoned message cannot hold its partition beyond the visibility timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// CalculateNextRetry returns the backoff delay after the given failed
// attempt (1-based). Exponential growth clamped to MaxDelay, with an
// overflow guard.
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	factor := policy.BackoffFactor
	if factor < 1 {
		factor = 1
	}

	delay := float64(policy.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= factor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		d = policy.MaxDelay
	}
	return d
}
