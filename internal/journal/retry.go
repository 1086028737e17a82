package journal

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// RetryPolicy bounds retries of transient store failures.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is the write policy used by the recorder: three attempts
// with exponential backoff capped at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 100 * time.Millisecond, MaxDelay: time.Second}
}

// IsRetryableError classifies whether a journal write should be retried.
// Conflicts are never retried: a key collision means the record is already
// durable and retrying would only collide again.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Context cancelled means the caller is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var serr *schema.Error
	if errors.As(err, &serr) {
		if serr.Code == schema.ErrCodeConflict {
			return false
		}
		return serr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"database is locked", "busy", "connection refused", "i/o timeout"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ComputeBackoff calculates the delay before the next retry attempt
// (exponential, capped at MaxDelay).
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	delay := policy.Delay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// retryWrite runs fn up to policy.MaxAttempts times, backing off between
// retryable failures. The last error is returned unwrapped.
func retryWrite(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(ComputeBackoff(policy, attempt-1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = fn()
		if lastErr == nil || !IsRetryableError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
