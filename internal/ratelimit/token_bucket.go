package ratelimit

import (
	"sync"
	"time"
)

// nanosPerToken is the fixed-point scale: one token is 1e9 nano-tokens, so a
// fill rate of X tokens/sec adds exactly X nano-tokens per elapsed nanosecond.
// Integer arithmetic avoids float drift in long-lived buckets.
const nanosPerToken = int64(time.Second)

// TokenBucket is a deterministic token bucket refilled at an integer rate
// (tokens/sec) from an injected Clock.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a bucket that starts full.
//
// A nil clock defaults to RealClock. Non-positive capacity or rate yields a
// bucket that never allows anything (callers treat <= 0 limits as "reject",
// config validation rules them out in production).
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: capacity * nanosPerToken,
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	if tokens > b.capacity {
		return false
	}
	cost := tokens * nanosPerToken

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; re-anchor without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 || b.rate <= 0 || b.capacity <= 0 {
		return
	}

	full := b.capacity * nanosPerToken
	need := full - b.available
	if need <= 0 {
		b.available = full
		return
	}
	// elapsed*rate can overflow for very long gaps; if the gap is enough to
	// fill the bucket, clamp instead of multiplying.
	if elapsed >= need/b.rate+1 {
		b.available = full
		return
	}
	b.available += elapsed * b.rate
	if b.available > full {
		b.available = full
	}
}
