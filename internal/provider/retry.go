package provider

import (
	"context"
	"errors"
	"time"

	"github.com/quantloop/refreshengine/internal/domain"
)

// retryConfig bundles spec §4.1 item 2's backoff parameters.
type retryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// withRetry runs op up to cfg.MaxRetries+1 times, backing off
// cfg.BaseDelay*2^attempt between attempts, and stops early on a
// non-retryable classified failure.
func withRetry[T any](ctx context.Context, cfg retryConfig, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.BaseDelay * time.Duration(1<<uint(attempt-1))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var failure *domain.ProviderFailure
		if errors.As(err, &failure) && !failure.Kind.Retryable() {
			return zero, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
	}
	return zero, lastErr
}
