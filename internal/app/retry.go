package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dwizi/feed-sink/internal/sink"
)

// RetryPolicy governs how the host retries a publish whose endpoint could not
// be reached. Any other failure is returned on the first attempt.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 2.0
	}
	return p
}

func isRetryable(err error) bool {
	var unavailable *sink.ConnectionUnavailableError
	return errors.As(err, &unavailable)
}

// retry runs fn until it succeeds, fails with a non-retryable error or runs
// out of attempts. It returns the number of attempts made. onRetry is called
// before every wait.
func retry(ctx context.Context, policy RetryPolicy, fn func() error, onRetry func(attempt int, err error)) (int, error) {
	policy = policy.normalized()
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == policy.MaxAttempts {
			return attempt, err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return attempt, fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), lastErr))
		case <-time.After(backoff(policy, attempt-1)):
		}
	}
	return policy.MaxAttempts, lastErr
}

func backoff(policy RetryPolicy, attempt int) time.Duration {
	wait := float64(policy.InitialBackoff) * math.Pow(policy.BackoffFactor, float64(attempt))
	if wait > float64(policy.MaxBackoff) {
		wait = float64(policy.MaxBackoff)
	}
	return time.Duration(wait)
}
