// Package retry runs fallible operations with exponential backoff and jitter.
//
// An OnRetry hook sees every failure before the policy sleeps. Besides logging,
// the hook classifies errors: calling Event.Cancel aborts the whole operation
// immediately, which is how backends turn a permanent authentication failure
// into a fatal error instead of burning through the remaining attempts.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Event describes one failed attempt.
type Event struct {
	Err     error
	Delay   time.Duration // backoff before the next attempt
	Attempt int           // 1-based number of the attempt that failed
	Final   bool          // no attempt follows; Delay is zero
	Context context.Context

	// Cancel stops retrying; Do returns cause.
	Cancel func(cause error)
}

// Policy configures Do. The delay after attempt i is
// min(Cap, Unit * Base^i) plus a random jitter in [0, Jitter).
type Policy struct {
	MaxAttempts int
	Base        float64
	Unit        time.Duration
	Cap         time.Duration
	Jitter      time.Duration
	OnRetry     func(Event)
}

// DefaultPolicy returns a policy with 2^i second backoff capped at 30s.
func DefaultPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Base:        2,
		Unit:        time.Second,
		Cap:         30 * time.Second,
		Jitter:      time.Second,
	}
}

// Backoff returns the delay after the given 1-based attempt, without jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.Base
	if base < 1 {
		base = 2
	}
	unit := p.Unit
	if unit <= 0 {
		unit = time.Second
	}

	delay := float64(unit) * math.Pow(base, float64(attempt))
	if p.Cap > 0 && delay > float64(p.Cap) {
		return p.Cap
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func (p Policy) jitter() time.Duration {
	if p.Jitter <= 0 {
		return 0
	}
	return rand.N(p.Jitter)
}

// Do calls op until it succeeds, returns a Permanent error, the hook cancels,
// ctx is done, or MaxAttempts is reached.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if p.MaxAttempts < 1 {
		return zero, ErrZeroAttempts
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}

		lastErr = err
		final := attempt == p.MaxAttempts

		var delay time.Duration
		if !final {
			delay = p.Backoff(attempt) + p.jitter()
		}
		if p.OnRetry != nil {
			p.OnRetry(Event{
				Err:     err,
				Delay:   delay,
				Attempt: attempt,
				Final:   final,
				Context: ctx,
				Cancel:  cancel,
			})
		}

		if ctx.Err() != nil {
			return zero, context.Cause(ctx)
		}
		if final {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, context.Cause(ctx)
		case <-timer.C:
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Last: lastErr}
}
