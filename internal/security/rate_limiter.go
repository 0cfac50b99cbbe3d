package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-key token bucket, used (keyed by room id) for the
// Ingest Surface's admission gate; per-IP API rate limiting is done
// separately by ingest.RateLimitWithHeaders. Each key gets its own
// golang.org/x/time/rate.Limiter so bursts in one room never borrow
// capacity from another.
type RateLimiter struct {
	mu       sync.RWMutex
	entries  map[string]*limiterEntry
	rate     rate.Limit
	capacity int
	ttl      time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewRateLimiter creates a rate limiter allowing ratePerInterval requests
// per interval per key, bursting up to capacity.
// Complexity: O(1)
func NewRateLimiter(ratePerInterval int, interval time.Duration, capacity int) *RateLimiter {
	rl := &RateLimiter{
		entries:  make(map[string]*limiterEntry),
		rate:     rate.Limit(float64(ratePerInterval) / interval.Seconds()),
		capacity: capacity,
		ttl:      1 * time.Hour,
	}

	go rl.cleanup()

	return rl
}

func (rl *RateLimiter) entry(key string) *limiterEntry {
	rl.mu.RLock()
	e, exists := rl.entries[key]
	rl.mu.RUnlock()
	if exists {
		return e
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if e, exists = rl.entries[key]; exists {
		return e
	}
	e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.capacity), lastUsed: time.Now()}
	rl.entries[key] = e
	return e
}

// Allow checks if a request from the given key should be allowed.
// Complexity: O(1)
func (rl *RateLimiter) Allow(key string) bool {
	return rl.AllowN(key, 1)
}

// AllowN checks if n requests from the given key should be allowed.
// Complexity: O(1)
func (rl *RateLimiter) AllowN(key string, n int) bool {
	if n <= 0 {
		return true
	}
	e := rl.entry(key)
	now := time.Now()
	e.lastUsed = now
	return e.limiter.AllowN(now, n)
}

// Reset clears the bucket for key, releasing its memory.
// Complexity: O(1)
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.entries, key)
}

// cleanup periodically removes inactive buckets to prevent memory leaks.
// Complexity: O(n) where n is the number of tracked keys
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, e := range rl.entries {
			if now.Sub(e.lastUsed) > rl.ttl {
				delete(rl.entries, key)
			}
		}
		rl.mu.Unlock()
	}
}

// WaitIfNeeded blocks until key's bucket has a token, or ctx is canceled.
// Complexity: O(1) amortized
func (rl *RateLimiter) WaitIfNeeded(ctx context.Context, key string) error {
	e := rl.entry(key)
	e.lastUsed = time.Now()
	return e.limiter.Wait(ctx)
}
