package services

import (
	"context"
	"math/rand"
	"time"

	"github.com/custodia-labs/driftwatch/internal/logger"
)

// Retry policy for external service calls. Each attempt carries its
// own timeout; exhausting attempts maps to domain.ErrExternalService
// at the call site.
const (
	retryAttempts    = 4
	retryBaseDelay   = 500 * time.Millisecond
	retryMaxDelay    = 8 * time.Second
	perCallTimeout   = 60 * time.Second
	retryJitterRatio = 0.2
)

// withRetry runs fn with bounded exponential backoff. It stops early
// when the parent context is cancelled and returns the last error when
// all attempts fail.
func withRetry(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
		lastErr = fn(callCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt == retryAttempts {
			break
		}

		sleep := delay + time.Duration(rand.Int63n(int64(float64(delay)*retryJitterRatio)+1))
		logger.Warn("%s failed (attempt %d/%d), retrying in %s: %v",
			what, attempt, retryAttempts, sleep, lastErr)

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(sleep):
		}

		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return lastErr
}
