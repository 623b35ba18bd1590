package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const maxBackoff = time.Second

// RetryPolicy bounds how often a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	// OnRetry is called before each re-run.
	OnRetry func(attempt int, err error)
}

// RetriesExhaustedError is returned when every attempt conflicted.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("store: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

// Run executes fn, re-running the whole of it on ErrConflict. Any other error
// is returned immediately.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if wait := p.backoff(attempt); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return &RetriesExhaustedError{Attempts: attempts, Err: err}
}

// Transaction runs fn in a store transaction under the policy.
func (p RetryPolicy) Transaction(ctx context.Context, s Store, fn func(ctx context.Context, tx Tx) error) error {
	return p.Run(ctx, func(ctx context.Context) error {
		return s.RunTransaction(ctx, fn)
	})
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseBackoff <= 0 {
		return 0
	}
	wait := p.BaseBackoff << (attempt - 1)
	if wait > maxBackoff || wait <= 0 {
		return maxBackoff
	}
	return wait
}
