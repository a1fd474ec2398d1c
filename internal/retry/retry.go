// Package retry runs blocking calls to external systems with a per-attempt
// timeout and a fixed number of exponential-backoff retries.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retried call.
type Policy struct {
	// Retries is the number of extra attempts after the first one.
	Retries int
	// Timeout applies to each attempt separately. Zero means no per-attempt deadline.
	Timeout time.Duration
	// BaseDelay is the first backoff interval; it defaults to 100ms.
	BaseDelay time.Duration
	// Permanent reports errors that must not be retried.
	Permanent func(error) bool
	// Notify, when set, observes every failed attempt that will be retried.
	Notify func(err error, wait time.Duration)
}

// Do calls op until it succeeds, returns a permanent error, runs out of
// retries, or ctx is done. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = 100 * time.Millisecond
	}
	exp.MaxInterval = 20 * exp.InitialInterval
	exp.MaxElapsedTime = 0
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)

	attempt := func() error {
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if p.Permanent != nil && p.Permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(attempt, policy, p.Notify)
}
