// Package retry runs remote calls under a bounded exponential backoff.
//
// Errors matching apperr.ErrTransient are retried; everything else stops
// the loop immediately. When the attempt budget runs out the last transient
// error is returned wrapped in an *ExhaustedError, which is no longer
// transient: callers treat it as a permanent failure.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/starford/pagesync/internal/apperr"
)

// Policy bounds the retry loop.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter is the backoff randomization factor in [0, 1).
	Jitter float64
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 4,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Jitter:     0.2,
	}
}

// Notify is called before each wait with the error that triggered it.
type Notify func(err error, wait time.Duration)

// ExhaustedError is returned when a transient error survived every retry.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, apperr.ErrTransient)
}

// Do runs op until it succeeds, fails permanently, the budget is spent, or
// ctx is done.
func Do(ctx context.Context, p Policy, op func(context.Context) error, notify Notify) error {
	var hint time.Duration
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.MaxInterval = p.MaxDelay
	exp.RandomizationFactor = p.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if p.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(&hinted{BackOff: exp, hint: &hint, max: p.MaxDelay}, uint64(p.MaxRetries))
	}
	b := backoff.WithContext(policy, ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		hint = 0
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		var ra interface{ RetryAfter() time.Duration }
		if errors.As(err, &ra) {
			hint = ra.RetryAfter()
		}
		return err
	}, b, backoff.Notify(notify))

	if err != nil && IsTransient(err) {
		return &ExhaustedError{Attempts: attempts, Err: demote(err)}
	}
	return err
}

// demote strips the transient marker so the result no longer matches
// apperr.ErrTransient.
func demote(err error) error {
	var te *apperr.TransientError
	if errors.As(err, &te) {
		return te.Err
	}
	return err
}

// hinted lets a server supplied Retry-After stretch the next wait, capped
// at max.
type hinted struct {
	backoff.BackOff
	hint *time.Duration
	max  time.Duration
}

func (h *hinted) NextBackOff() time.Duration {
	d := h.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if *h.hint > d {
		d = *h.hint
	}
	if h.max > 0 && d > h.max {
		d = h.max
	}
	return d
}
