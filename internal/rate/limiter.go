// Package rate paces request dispatch.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter spaces dispatches evenly at a fixed rate using a leaky bucket: it
// tracks when the next slot opens rather than how many tokens remain, so a
// slow consumer never triggers a catch-up burst larger than the configured
// burst.
//
// A Limiter is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	perSec   float64
	burst    float64
	credit   float64
	lastDrip time.Time

	slots  atomic.Int64
	waited atomic.Int64
}

// Stats describes what a Limiter has done so far.
type Stats struct {
	PerSecond float64       `json:"perSecond"`
	Slots     int64         `json:"slots"`
	Waited    time.Duration `json:"waited"`
}

// NewLimiter returns a limiter allowing perSec dispatches per second. The
// first burst slots are available immediately. A burst below one is
// treated as one.
func NewLimiter(perSec float64, burst int) *Limiter {
	if perSec <= 0 {
		perSec = 1
	}
	b := float64(burst)
	if b < 1 {
		b = 1
	}
	return &Limiter{
		perSec:   perSec,
		burst:    b,
		credit:   b,
		lastDrip: time.Now(),
	}
}

// Next reserves the next slot and returns when it opens. A time in the past
// means the slot is open now.
func (l *Limiter) Next() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(l.lastDrip).Seconds(); elapsed > 0 {
		l.credit += elapsed * l.perSec
	}
	if l.credit > l.burst {
		l.credit = l.burst
	}
	l.slots.Add(1)

	if l.credit >= 1 {
		l.credit--
		l.lastDrip = now
		return now
	}

	// Reservations queue behind any slot already handed out.
	base := now
	if l.lastDrip.After(now) {
		base = l.lastDrip
	}
	next := base.Add(time.Duration((1 - l.credit) / l.perSec * float64(time.Second)))
	l.credit = 0
	// Credit accrues from the reserved slot, not from now, so waking at
	// next does not immediately earn another slot.
	l.lastDrip = next
	l.waited.Add(int64(next.Sub(now)))
	return next
}

// Wait blocks until the next slot opens or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	d := time.Until(l.Next())
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stats returns a snapshot of the limiter's counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	perSec := l.perSec
	l.mu.Unlock()
	return Stats{
		PerSecond: perSec,
		Slots:     l.slots.Load(),
		Waited:    time.Duration(l.waited.Load()),
	}
}
