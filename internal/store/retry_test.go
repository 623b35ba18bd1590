package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRetryPolicyRetriesConflicts(t *testing.T) {
	calls := 0
	retries := 0
	policy := RetryPolicy{MaxAttempts: 4, OnRetry: func(int, error) { retries++ }}
	err := policy.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("wrapped: %w", ErrConflict)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 || retries != 2 {
		t.Fatalf("expected 3 calls and 2 retries, got %d and %d", calls, retries)
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	calls := 0
	err := RetryPolicy{MaxAttempts: 3}.Run(context.Background(), func(context.Context) error {
		calls++
		return ErrConflict
	})
	var exhausted *RetriesExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 3 {
		t.Fatalf("expected RetriesExhaustedError after 3 attempts, got %v", err)
	}
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("exhausted error must still match ErrConflict")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := RetryPolicy{MaxAttempts: 5}.Run(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected single call returning boom, got %d calls and %v", calls, err)
	}
}

func TestRetryPolicyBackoffIsCapped(t *testing.T) {
	p := RetryPolicy{BaseBackoff: maxBackoff / 2}
	if got := p.backoff(1); got != maxBackoff/2 {
		t.Fatalf("unexpected first backoff %s", got)
	}
	if got := p.backoff(10); got != maxBackoff {
		t.Fatalf("expected capped backoff, got %s", got)
	}
}
