package resilience

import (
	"context"
	"time"

	"github.com/harunnryd/parley/pkg/errorsx"
)

// RetryPolicy defines retry behavior for transient failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	// MaxBackoff caps the doubling backoff. Zero keeps the backoff constant.
	MaxBackoff time.Duration
	// Retryable decides whether err is worth another attempt. Nil retries
	// transient and rate limit errors.
	Retryable func(err error) bool
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx ends.
func (r RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	retryable := r.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	backoff := r.Backoff
	var err error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt == r.MaxRetries || !retryable(err) {
			return err
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		if r.MaxBackoff > 0 {
			backoff *= 2
			if backoff > r.MaxBackoff {
				backoff = r.MaxBackoff
			}
		}
	}
	return err
}

func DefaultRetryable(err error) bool {
	return IsRateLimit(err) || errorsx.IsTransient(err)
}
