package drission

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry describes a polling loop: at most Attempts tries (0 is unlimited),
// Interval apart, giving up after Deadline (0 is no deadline other than the
// context's).
type Retry struct {
	Attempts int
	Interval time.Duration
	Deadline time.Duration
}

// errRetry asks Retry.Do for another attempt without recording a failure
// worth reporting.
var errRetry = errors.New("retry")

// Do runs fn until it returns nil, a permanent error, or the budget runs
// out. The last error from fn is returned; when fn only ever asked to retry,
// ErrWaitTimeout is returned.
func (r Retry) Do(ctx context.Context, fn func(context.Context) error) error {
	if r.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Deadline)
		defer cancel()
	}
	interval := r.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(interval)
	if r.Attempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(r.Attempts-1))
	}

	var last error
	err := backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errRetry) {
			last = err
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		if last != nil && !errors.Is(last, context.DeadlineExceeded) && !errors.Is(last, context.Canceled) {
			return last
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return ErrWaitTimeout
	case errors.Is(err, errRetry):
		return ErrWaitTimeout
	}
	return err
}

// stop wraps err so Retry.Do returns it without further attempts.
func stop(err error) error {
	return backoff.Permanent(err)
}
