package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a deterministic token bucket refilled at an integer rate of
// tokens per second, using an injected Clock.
//
// Refill accounting is integer-only: elapsed nanoseconds are converted to
// whole tokens and the sub-token remainder is carried forward, so no
// precision is lost across many small reads.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64 // whole tokens
	creditNs  int64 // accumulated elapsed*rate, in token-nanoseconds
	last      time.Time
}

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
		available: capacity,
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. A request for <= 0 tokens always
// succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.available < tokens {
		return false
	}
	b.available -= tokens
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; re-anchor without refilling.
		b.last = now
		b.creditNs = 0
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now

	if b.rate <= 0 || b.capacity <= 0 || elapsed <= 0 {
		return
	}
	if b.available >= b.capacity {
		b.creditNs = 0
		return
	}

	// Beyond an hour idle the bucket is full regardless; this also guards
	// elapsed*rate against overflow.
	if elapsed > int64(time.Hour) {
		b.available = b.capacity
		b.creditNs = 0
		return
	}

	b.creditNs += elapsed * b.rate
	earned := b.creditNs / int64(time.Second)
	b.creditNs -= earned * int64(time.Second)
	if earned > 0 {
		b.available += earned
		if b.available >= b.capacity {
			b.available = b.capacity
			b.creditNs = 0
		}
	}
}
