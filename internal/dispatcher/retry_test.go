package dispatcher

import (
	"testing"
	"time"
)

func TestCalculateNextRetry_ExponentialGrowth(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:   5,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}

	for _, tc := range cases {
		if got := CalculateNextRetry(policy, tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestCalculateNextRetry_ClampsToMaxDelay(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:     1 * time.Second,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}

	if got := CalculateNextRetry(policy, 10); got != 5*time.Second {
		t.Errorf("expected clamp to 5s, got %v", got)
	}
}

func TestCalculateNextRetry_GuardsAgainstOverflow(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:     time.Hour,
		MaxDelay:      2 * time.Hour,
		BackoffFactor: 10.0,
	}

	if got := CalculateNextRetry(policy, 500); got != 2*time.Hour {
		t.Errorf("expected overflow to clamp to MaxDelay, got %v", got)
	}
}

func TestCalculateNextRetry_InvalidInputsNormalized(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:     time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 0, // below 1, treated as flat
	}

	if got := CalculateNextRetry(policy, 0); got != time.Second {
		t.Errorf("attempt 0: expected base delay, got %v", got)
	}
	if got := CalculateNextRetry(policy, 3); got != time.Second {
		t.Errorf("flat factor: expected base delay, got %v", got)
	}
}
