// Package ratelimit paces calls to remote services. Each backend family (a
// host, a cloud API, a catalog server) gets its own Limiter with its own
// budget; a Registry hands them out by key.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMargin is the share of nominal capacity a Limiter actually uses.
const DefaultMargin = 0.9

// Limiter guarantees at most maxRequests calls per timeSpan, scaled down by a
// safety margin. Error handlers can push the next slot further out with
// AddDelay after the remote side reports a rate-limit violation.
type Limiter struct {
	limiter  *rate.Limiter // nil means unlimited
	interval time.Duration

	mu        sync.Mutex
	notBefore time.Time
}

// New creates a limiter allowing maxRequests per timeSpan at margin of
// nominal capacity. A margin outside (0, 1] falls back to DefaultMargin.
func New(maxRequests int, timeSpan time.Duration, margin float64) *Limiter {
	if maxRequests <= 0 || timeSpan <= 0 {
		return Unlimited()
	}
	if margin <= 0 || margin > 1 {
		margin = DefaultMargin
	}

	interval := time.Duration(math.Ceil(float64(timeSpan) / float64(maxRequests) / margin))
	return paced(interval)
}

// PerSecond creates a limiter for a requests-per-second budget. Zero or a
// negative rate means unlimited.
func PerSecond(rps float64, margin float64) *Limiter {
	if rps <= 0 {
		return Unlimited()
	}
	if margin <= 0 || margin > 1 {
		margin = DefaultMargin
	}

	interval := time.Duration(math.Ceil(float64(time.Second) / rps / margin))
	return paced(interval)
}

// paced spaces slots interval apart. The bucket starts empty, so the first
// call waits a full interval as well and K calls take at least K intervals.
func paced(interval time.Duration) *Limiter {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	limiter.Allow()
	return &Limiter{limiter: limiter, interval: interval}
}

// Unlimited returns a limiter that only honours AddDelay.
func Unlimited() *Limiter {
	return &Limiter{}
}

// Interval is the minimum spacing between two granted slots.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until the caller may issue its next call or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		wait := time.Until(l.notBefore)
		l.mu.Unlock()

		if wait <= 0 {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if l.limiter == nil {
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}

// AddDelay pushes the next allowed slot d further into the future.
func (l *Limiter) AddDelay(d time.Duration) {
	if d <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	base := time.Now()
	if l.notBefore.After(base) {
		base = l.notBefore
	}
	l.notBefore = base.Add(d)
}
