package chunkio

import (
	"context"
	"math/rand"
	"time"

	"github.com/spatialio/octree"
)

// RetryPolicy bounds the exponential backoff the Store applies around
// Endpoint calls that fail with octree.EndpointIoError (spec §5: "retries
// with exponential backoff up to a configured cap"). Grounded in shape on
// internal/rebalancing's budget/interval fields — a small numeric policy
// struct threaded through instead of a package-level constant.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy backs off from 100ms up to 2s, five attempts total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// withRetry calls fn until it succeeds, returns a non-retryable error, or
// the policy's attempt budget is exhausted. Only octree.EndpointIoError is
// retried; every other kind returns immediately.
func withRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	var lastErr error
	delay := policy.BaseDelay
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !octree.Retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		jittered := delay/2 + time.Duration(rand.Int63n(int64(delay)+1))
		if jittered > policy.MaxDelay {
			jittered = policy.MaxDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return lastErr
}
