// Package retry provides a bounded fixed-delay retry wrapper for flaky
// network operations (bundler submission, audio upload).
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do calls fn up to attempts times, sleeping delay between failures. The
// first success wins; after the last failure the last error is returned.
// The delay is fixed, not exponential. Context cancellation aborts the wait
// and surfaces ctx.Err().
func Do[T any](ctx context.Context, attempts int, delay time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		return zero, fmt.Errorf("retry: attempts must be >= 1, got %d", attempts)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return zero, fmt.Errorf("retry: %d attempts exhausted: %w", attempts, lastErr)
}
