package middleware

import (
	"sync"
	"time"
)

// RateLimiter implements token bucket rate limiting per client.
type RateLimiter struct {
	clients  map[string]*clientBucket
	capacity float64
	refill   float64 // tokens per second
	now      func() time.Time
	mu       sync.Mutex
}

type clientBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter allows bursts of capacity requests, refilled at perSecond.
// A non-positive capacity disables limiting.
func NewRateLimiter(capacity int, perSecond float64) *RateLimiter {
	return &RateLimiter{
		clients:  make(map[string]*clientBucket),
		capacity: float64(capacity),
		refill:   perSecond,
		now:      time.Now,
	}
}

// Allow reports whether clientID may spend cost tokens now.
func (rl *RateLimiter) Allow(clientID string, cost int) bool {
	if rl == nil || rl.capacity <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, exists := rl.clients[clientID]
	if !exists {
		bucket = &clientBucket{tokens: rl.capacity, lastRefill: now}
		rl.clients[clientID] = bucket
	}

	if elapsed := now.Sub(bucket.lastRefill).Seconds(); elapsed > 0 {
		bucket.tokens += elapsed * rl.refill
		if bucket.tokens > rl.capacity {
			bucket.tokens = rl.capacity
		}
		bucket.lastRefill = now
	}

	if bucket.tokens >= float64(cost) {
		bucket.tokens -= float64(cost)
		return true
	}
	return false
}

// Clients returns the number of tracked buckets.
func (rl *RateLimiter) Clients() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
