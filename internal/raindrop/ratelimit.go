// Package raindrop implements a rate-limited client for the Raindrop.io
// REST API: collection and raindrop fetches, raindrop create/delete, token
// liveness probing with a single refresh attempt, and bounded retry on
// 429/503 throttling responses.
package raindrop

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// maxJitter is the upper bound of the random delay added to every request
// slot so bursts do not land exactly on the interval boundary.
const maxJitter = 200 * time.Millisecond

// Limiter spaces outgoing requests at least one interval apart. Each caller
// reserves the next free slot and sleeps until it arrives, so waiters are
// served in arrival order.
type Limiter struct {
	interval time.Duration
	jitter   func() time.Duration

	mu   sync.Mutex
	next time.Time
}

// NewLimiter returns a limiter allowing rpm requests per minute. The minimum
// spacing is 60000ms/rpm rounded up to the next millisecond.
func NewLimiter(rpm int) *Limiter {
	if rpm < 1 {
		rpm = 1
	}
	ms := (60000 + rpm - 1) / rpm
	return &Limiter{
		interval: time.Duration(ms) * time.Millisecond,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(maxJitter))) //nolint:gosec // jitter does not need crypto/rand
		},
	}
}

// Wait blocks until the caller's reserved slot arrives or ctx is cancelled.
// On cancellation the reservation stands, so a cancelled waiter does not
// hand its slot to a later one.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	slot := l.next
	if slot.Before(now) {
		slot = now
	}
	l.next = slot.Add(l.interval)
	l.mu.Unlock()

	delay := time.Until(slot) + l.jitter()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
