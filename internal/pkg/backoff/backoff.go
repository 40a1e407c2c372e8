// Package backoff implements the exponential-backoff-with-jitter formula
// the poller uses for its requeue delay:
// backoff(n) = clamp(min*2^n, min, max) + U(-jitter*capped, +jitter*capped).
package backoff

import (
	"math"
	"time"

	"github.com/neurobridge/genjobs/internal/pkg/clock"
)

const (
	DefaultMin    = 1000 * time.Millisecond
	DefaultMax    = 30000 * time.Millisecond
	DefaultJitter = 0.20

	// RateLimitPenaltyAttempts is added to the observed attempt count when the
	// provider reports a rate limit, forcing a much more conservative curve.
	RateLimitPenaltyAttempts = 5
)

type Policy struct {
	Min    time.Duration
	Max    time.Duration
	Jitter float64
}

func DefaultPolicy() Policy {
	return Policy{Min: DefaultMin, Max: DefaultMax, Jitter: DefaultJitter}
}

func (p Policy) normalized() Policy {
	if p.Min <= 0 {
		p.Min = DefaultMin
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	if p.Max < p.Min {
		p.Max = p.Min
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Duration computes backoff(n) for attempt count n (n >= 0) using r for the
// jitter draw.
func (p Policy) Duration(n int, r clock.Rand) time.Duration {
	p = p.normalized()
	if n < 0 {
		n = 0
	}
	capped := time.Duration(math.Min(
		float64(p.Max),
		math.Max(float64(p.Min), float64(p.Min)*math.Pow(2, float64(n))),
	))

	if p.Jitter == 0 {
		return capped
	}
	spread := float64(capped) * p.Jitter
	var draw float64
	if r != nil {
		draw = r.Float64()
	}
	delta := (draw*2 - 1) * spread // U(-spread, +spread)
	d := time.Duration(float64(capped) + delta)
	if d < 0 {
		d = 0
	}
	return d
}
