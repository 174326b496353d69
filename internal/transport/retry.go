package transport

import (
	"context"
	"time"
)

// RetryPolicy bounds connection-establishment retries. Every attempt starts
// from scratch; no partial state is carried between attempts.
type RetryPolicy struct {
	MaxAttempts    int           // total attempts, including the first
	Backoff        time.Duration // pause between attempts
	ConnectTimeout time.Duration // per-attempt handshake bound
}

// DefaultRetryPolicy matches the baseline: one initial attempt plus two
// retries, 15s per handshake.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		Backoff:        500 * time.Millisecond,
		ConnectTimeout: 15 * time.Second,
	}
}

// Run invokes attempt until it succeeds or the policy is exhausted, pausing
// Backoff between attempts. The last error is returned. Cancellation of ctx
// stops retrying immediately.
func (p RetryPolicy) Run(ctx context.Context, attempt func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && p.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff):
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.ConnectTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.ConnectTimeout)
		}
		err := attempt(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
