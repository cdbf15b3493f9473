package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryConfig controls exponential backoff for reasoning calls.
// Attempt n (zero-based) waits BaseDelay * 2^n before retrying,
// capped at MaxDelay when set.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// sleep is overridable in tests. Defaults to a context-aware wait.
	sleep func(context.Context, time.Duration) error
}

// DefaultRetry returns the standard backoff policy: five attempts
// starting at a ten second delay.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Second,
		MaxDelay:    5 * time.Minute,
	}
}

// Delay returns the backoff before retry attempt n (zero-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := c.BaseDelay << uint(attempt)
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

func (c RetryConfig) wait(ctx context.Context, d time.Duration) error {
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryError reports that all attempts were exhausted.
type RetryError struct {
	Attempts int
	LastErr  error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.LastErr)
}

func (e *RetryError) Unwrap() error {
	return e.LastErr
}

// permanentError marks an error as non-retryable.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so CallWithRetry fails immediately
// instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// CallWithRetry invokes fn with exponential backoff until it succeeds,
// returns a Permanent error, the context ends, or attempts run out.
func CallWithRetry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := cfg.wait(ctx, cfg.Delay(attempt-1)); err != nil {
				return zero, err
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
	}
	return zero, &RetryError{Attempts: cfg.MaxAttempts, LastErr: lastErr}
}
