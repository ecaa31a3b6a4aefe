// Package ratelimit provides a small token-bucket guard, used to bound
// how fast the alert dispatcher may call into an external alert sink
// when many endpoints flap in a short window.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate behind a minimal surface: Allow,
// Wait, SetLimit, Limit.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a Limiter allowing up to eventsPerSecond sustained events
// with a burst of the same size. eventsPerSecond <= 0 means "unlimited".
func New(eventsPerSecond float64) *Limiter {
	if eventsPerSecond <= 0 {
		return &Limiter{rl: rate.NewLimiter(rate.Inf, 1)}
	}
	burst := int(eventsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(eventsPerSecond), burst)}
}

// Allow reports whether an event may proceed right now without blocking.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}

// Wait blocks until an event is permitted or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// SetLimit updates the sustained rate.
func (l *Limiter) SetLimit(eventsPerSecond float64) {
	l.rl.SetLimit(rate.Limit(eventsPerSecond))
}

// Limit returns the current sustained rate.
func (l *Limiter) Limit() float64 {
	return float64(l.rl.Limit())
}
