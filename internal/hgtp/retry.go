package hgtp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Error classes for submission outcomes. Terminal errors are never retried;
// transient errors are retried under the policy; ambiguous errors are
// retried but the caller is told the fact may have landed.
var (
	ErrTerminal  = errors.New("hgtp: terminal error")
	ErrTransient = errors.New("hgtp: transient error")
	ErrAmbiguous = errors.New("hgtp: ambiguous outcome, submission may have landed")
)

// RetryPolicy bounds the retry loop around ledger calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the reference behaviour: 3 attempts with
// exponential backoff starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// RetryObserver is an optional callback invoked once per retry (not the
// first attempt), used for metrics.
type RetryObserver func(label string)

// Do runs op under the policy, retrying transient and ambiguous failures
// with exponential backoff. Terminal errors abort immediately. After
// exhausting attempts the last error is returned, still carrying its class
// for errors.Is checks. label identifies the operation in logs.
func Do[T any](ctx context.Context, policy RetryPolicy, label string, logger *zap.Logger, onRetry RetryObserver, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	delay := policy.BaseDelay
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if onRetry != nil {
				onRetry(label)
			}
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("%s: %w", label, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrTerminal) {
			return zero, fmt.Errorf("%s: %w", label, err)
		}

		// No warning on the final attempt; the exhaustion error carries it.
		if attempt < policy.MaxAttempts {
			logger.Warn("ledger call failed, will retry",
				zap.String("operation", label),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", policy.MaxAttempts),
				zap.Error(err),
			)
		}
	}

	return zero, fmt.Errorf("%s: retries exhausted: %w", label, lastErr)
}
