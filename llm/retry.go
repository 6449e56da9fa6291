package llm

import (
	"context"
	"time"
)

// RetryConfig holds retry configuration for LLM requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per endpoint.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DefaultRetryConfig returns the rate-limit schedule: 2s, 4s, 8s over at most
// three attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Backoff computes the wait after the given (1-based) failed attempt.
// No jitter is applied; a single orchestrator never retries in lockstep with
// another.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.BackoffBase) * multiplier)
	if c.MaxBackoff > 0 && backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	return backoff
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryFunc is one attempt. It returns the reply or a classified error.
type retryFunc func(attempt int) (string, error)

// withRetry runs fn until it succeeds, fails fatally, or the attempts run out.
// Only transient errors are retried. onRetry is called before each backoff.
func withRetry(ctx context.Context, cfg RetryConfig, sleep Sleeper,
	onRetry func(attempt int, backoff time.Duration, err error), fn retryFunc) (string, int, error) {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := fn(attempt)
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", attempt, ctx.Err()
		}
		if !IsTransient(err) {
			return "", attempt, err
		}

		if attempt < maxAttempts {
			backoff := cfg.Backoff(attempt)
			if onRetry != nil {
				onRetry(attempt, backoff, err)
			}
			if err := sleep(ctx, backoff); err != nil {
				return "", attempt, err
			}
		}
	}
	return "", maxAttempts, lastErr
}
