package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// retryAttempts bounds how many times a transient backend failure is
	// retried before it surfaces to the pipeline as a stage failure.
	retryAttempts = 3

	// retryBaseDelay scales the quadratic backoff: 100ms, 400ms, 900ms...
	retryBaseDelay = 100 * time.Millisecond
)

// WithRetry runs fn with bounded exponential backoff. Validation failures
// (ErrNotFound, ErrInvalidInput) and context cancellation are returned
// immediately; anything else is treated as transient and retried.
func WithRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * retryBaseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, err)
}
