package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dwizi/feed-sink/internal/sink"
)

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	rejected := &sink.ResponseError{Status: 500, Expected: 201}
	attempts, err := retry(context.Background(), fastRetry(), func() error {
		calls++
		return rejected
	}, nil)
	if !errors.Is(err, rejected) || attempts != 1 || calls != 1 {
		t.Fatalf("expected one attempt, got attempts=%d calls=%d err=%v", attempts, calls, err)
	}
}

func TestRetryRecoversAfterUnavailable(t *testing.T) {
	calls := 0
	var retried []int
	attempts, err := retry(context.Background(), fastRetry(), func() error {
		calls++
		if calls < 3 {
			return &sink.ConnectionUnavailableError{Method: "POST", URL: "http://host/feed", Err: errors.New("refused")}
		}
		return nil
	}, func(attempt int, err error) {
		retried = append(retried, attempt)
	})
	if err != nil || attempts != 3 {
		t.Fatalf("expected success on third attempt, got attempts=%d err=%v", attempts, err)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Fatalf("unexpected retry callbacks: %v", retried)
	}
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, BackoffFactor: 2}
	attempts, err := retry(ctx, policy, func() error {
		return &sink.ConnectionUnavailableError{Method: "POST", URL: "http://host/feed", Err: errors.New("refused")}
	}, func(int, error) { cancel() })
	if !errors.Is(err, context.Canceled) || attempts != 1 {
		t.Fatalf("expected cancellation after one attempt, got attempts=%d err=%v", attempts, err)
	}
	var unavailable *sink.ConnectionUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected last error kept, got %v", err)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffFactor: 2}.normalized()
	if got := backoff(policy, 0); got != 100*time.Millisecond {
		t.Fatalf("expected initial backoff, got %s", got)
	}
	if got := backoff(policy, 2); got != 400*time.Millisecond {
		t.Fatalf("expected 400ms, got %s", got)
	}
	if got := backoff(policy, 8); got != time.Second {
		t.Fatalf("expected capped backoff, got %s", got)
	}
}

func TestRetryPolicyNormalizes(t *testing.T) {
	policy := RetryPolicy{}.normalized()
	if policy.MaxAttempts != 1 || policy.BackoffFactor != 2 || policy.MaxBackoff != 30*time.Second {
		t.Fatalf("unexpected normalized policy: %+v", policy)
	}
}
