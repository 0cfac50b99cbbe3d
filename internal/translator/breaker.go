package translator

import (
	"sync"
	"time"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
)

// breaker is a per-provider circuit breaker: after FailureThreshold
// consecutive failures it opens and rejects calls until CircuitCooldown
// has elapsed, at which point a single trial call is let through.
type breaker struct {
	mu               sync.Mutex
	threshold        int
	cooldown         time.Duration
	state            circuitState
	consecutiveFails int
	openedAt         time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed: the breaker is closed, or it
// is open but the cooldown has elapsed (a half-open trial).
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == circuitClosed {
		return true
	}
	if time.Since(b.openedAt) > b.cooldown {
		// Restart the cooldown so only this trial call gets through until
		// its result closes or re-opens the breaker.
		b.openedAt = time.Now()
		return true
	}
	return false
}

func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	b.state = circuitClosed
}

func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails++
	if b.consecutiveFails >= b.threshold {
		b.state = circuitOpen
		b.openedAt = time.Now()
	}
}

func (b *breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == circuitOpen
}
