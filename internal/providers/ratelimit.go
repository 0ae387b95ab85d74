package providers

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter enforces a sliding-window call budget: at most capacity
// calls may start within any trailing window. Waiters are admitted in
// FIFO order as old calls age out, so a burst cannot starve earlier
// arrivals.
//
// One limiter exists per provider per process. Capacity <= 0 disables
// limiting.
type WindowLimiter struct {
	capacity int
	window   time.Duration

	mu      sync.Mutex
	starts  []time.Time     // in-window admission times, ascending
	waiters []chan struct{} // FIFO queue, closed on admission
	timer   *time.Timer
}

// NewWindowLimiter returns a limiter admitting capacity calls per window.
func NewWindowLimiter(capacity int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		capacity: capacity,
		window:   window,
	}
}

// Wait blocks until the caller may start a call, or until ctx is done.
// Admission order among concurrent waiters matches arrival order.
func (l *WindowLimiter) Wait(ctx context.Context) error {
	if l.capacity <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	l.pruneLocked(now)
	if len(l.waiters) == 0 && len(l.starts) < l.capacity {
		l.starts = append(l.starts, now)
		l.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.armTimerLocked(now)
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		l.mu.Lock()
		l.removeWaiterLocked(ready)
		l.mu.Unlock()
		return ctx.Err()
	case <-ready:
		return nil
	}
}

// Status reports the current budget without blocking.
func (l *WindowLimiter) Status() RateLimitStatus {
	if l.capacity <= 0 {
		return RateLimitStatus{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.pruneLocked(now)
	st := RateLimitStatus{
		Limit:   l.capacity,
		Used:    len(l.starts),
		ResetAt: now,
	}
	if len(l.starts) > 0 {
		st.ResetAt = l.starts[0].Add(l.window)
	}
	return st
}

// pruneLocked drops admissions older than the window.
func (l *WindowLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.starts) && !l.starts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.starts = append(l.starts[:0], l.starts[i:]...)
	}
}

// armTimerLocked schedules a wake-up for when the oldest in-window
// admission expires. No-op if a timer is already pending.
func (l *WindowLimiter) armTimerLocked(now time.Time) {
	if l.timer != nil || len(l.starts) == 0 {
		return
	}
	delay := l.starts[0].Add(l.window).Sub(now)
	if delay < 0 {
		delay = 0
	}
	l.timer = time.AfterFunc(delay, l.admitExpired)
}

// admitExpired runs on timer fire: releases aged-out slots to the head
// of the waiter queue and re-arms if waiters remain.
func (l *WindowLimiter) admitExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timer = nil
	now := time.Now()
	l.pruneLocked(now)
	for len(l.waiters) > 0 && len(l.starts) < l.capacity {
		ready := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.starts = append(l.starts, now)
		close(ready)
	}
	if len(l.waiters) > 0 {
		l.armTimerLocked(now)
	}
}

func (l *WindowLimiter) removeWaiterLocked(ready chan struct{}) {
	for i, w := range l.waiters {
		if w == ready {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}
