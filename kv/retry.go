package kv

import (
	"context"
	"time"
)

// MaxStorageRetries is the bounded retry count for transient storage
// failures, per §7's error taxonomy: "retry with bounded exponential
// backoff up to 3 attempts, then surface as transaction-level failure."
const MaxStorageRetries = 3

// baseRetryBackoff and maxRetryBackoff bound the doubling delay between
// attempts, the same shape as the cluster's dial-backoff reconnect logic.
const (
	baseRetryBackoff = 25 * time.Millisecond
	maxRetryBackoff  = 400 * time.Millisecond
)

// WithRetry runs op up to MaxStorageRetries times, doubling the delay
// between attempts, and returns the last error if every attempt fails.
// Callers must ensure op is safe to re-execute (storage operations this
// wraps are expected to be idempotent or read-only).
func WithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	delay := baseRetryBackoff
	var err error
	for attempt := 0; attempt < MaxStorageRetries; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt == MaxStorageRetries-1 {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > maxRetryBackoff {
			delay = maxRetryBackoff
		}
	}
	return err
}
