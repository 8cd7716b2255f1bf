// Package retry wraps remote calls with a bounded, fixed-delay retry.
//
// The delay never grows and carries no jitter: the broker throttles per
// second, so a constant spacing is what keeps repeated calls under the limit.
package retry

import (
	"context"
	"errors"
	"time"

	"autokite/internal/logger"
	"autokite/internal/store"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy is max attempts in total, separated by a fixed delay.
type Policy struct {
	Attempts int
	Delay    time.Duration

	sleep Sleeper
}

func New(attempts int, delay time.Duration) Policy {
	if attempts < 1 {
		attempts = 1
	}
	return Policy{Attempts: attempts, Delay: delay}
}

// FromConfig builds a policy from its config.yaml entry.
func FromConfig(c store.RetryPolicy) Policy {
	return New(c.Attempts, c.Delay)
}

// WithSleeper replaces the wall-clock wait, mainly for tests.
func (p Policy) WithSleeper(s Sleeper) Policy {
	p.sleep = s
	return p
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Do runs fn until it succeeds, returns a Permanent error, or the policy is
// exhausted. The final error is returned as-is; there is no trailing delay
// after the last attempt.
func Do[T any](ctx context.Context, p Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = wait
	}

	var (
		zero T
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			logger.ErrorWithErrSkip(ctx, 1, "Operation failed permanently", perm.err,
				"operation", operation,
				"attempt", attempt,
			)
			return zero, perm.err
		}

		if attempt == attempts {
			break
		}

		logger.WarnSkip(ctx, 1, "Operation failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", p.Delay,
			"error", err,
		)
		if serr := sleep(ctx, p.Delay); serr != nil {
			return zero, err
		}
	}

	logger.ErrorWithErrSkip(ctx, 1, "Operation failed after all attempts", err,
		"operation", operation,
		"max_attempts", attempts,
	)
	return zero, err
}

// Run is Do for calls without a result.
func Run(ctx context.Context, p Policy, operation string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
