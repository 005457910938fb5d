package app

import (
	"sync"
	"time"
)

// RateLimiter hands out tokens per key from independent refilling
// buckets. Buckets are created lazily on first use.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   int
	capacity int
	period   time.Duration
	lastFill time.Time
}

// NewRateLimiter builds an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: map[string]*bucket{}}
}

// Allow takes one token from key's bucket (capacity tokens per period).
// It returns ok=false and a suggested wait when the bucket is empty.
func (r *RateLimiter) Allow(key string, capacity int, period time.Duration) (bool, time.Duration) {
	if capacity <= 0 || period <= 0 {
		return true, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, capacity: capacity, period: period, lastFill: now}
		r.buckets[key] = b
	}
	// full refill once per period; partial refills proportional to
	// elapsed time keep bursts smoother
	elapsed := now.Sub(b.lastFill)
	if elapsed > 0 {
		refill := int(float64(b.capacity) * (float64(elapsed) / float64(b.period)))
		if refill > 0 {
			b.tokens += refill
			if b.tokens > b.capacity {
				b.tokens = b.capacity
			}
			b.lastFill = now
		}
	}
	if b.tokens > 0 {
		b.tokens--
		return true, 0
	}
	perToken := b.period / time.Duration(b.capacity)
	wait := perToken - now.Sub(b.lastFill)
	if wait < perToken/2 {
		wait = perToken / 2
	}
	return false, wait
}
