// Package retry retries remote reads with exponential backoff
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Config defines retry configuration
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64 // Random jitter factor (0-1)

	// OnRetry is called before each new attempt with the error that caused it
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns the defaults used for chain and indexer reads
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// RetryableError marks an error as transient
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// StatusError classifies a non-2xx HTTP status. Throttling and server errors
// are retryable; anything else is permanent. base is wrapped in both cases.
func StatusError(status int, base error) error {
	err := fmt.Errorf("%w: status %d", base, status)
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return NewRetryableError(err)
	}
	return err
}

// Do executes fn until it succeeds, returns a permanent error or the
// attempts run out
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult is Do for functions that produce a value
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, lastErr)
			}
			timer := time.NewTimer(Backoff(cfg, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return zero, err
		}
		lastErr = err
	}

	return zero, lastErr
}

// Backoff returns the wait before the given attempt (1-based)
func Backoff(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxBackoff > 0 && backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}

	if cfg.Jitter > 0 {
		backoff += backoff * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	if backoff < 0 {
		backoff = float64(cfg.InitialBackoff)
	}
	return time.Duration(backoff)
}
