// Package ratelimit implements the per-user hybrid rate limiter: a smooth
// token bucket composed with a hard sliding-window anti-flood check.
package ratelimit

import (
	"sync"

	"github.com/whatsapp-agent-gateway/gateway/internal/clock"
)

// TokenBucket smooths throughput to ratePerMinute with bursts up to
// capacity. Tokens refill lazily on access; there is no background ticker.
type TokenBucket struct {
	clock         clock.Clock
	ratePerMinute float64
	capacity      float64

	mu         sync.Mutex
	tokens     float64
	lastRefill int64 // unix nanos
}

// NewTokenBucket constructs a bucket starting full.
func NewTokenBucket(c clock.Clock, ratePerMinute, capacity int) *TokenBucket {
	b := &TokenBucket{
		clock:         c,
		ratePerMinute: float64(ratePerMinute),
		capacity:      float64(capacity),
		tokens:        float64(capacity),
		lastRefill:    c.Now().UnixNano(),
	}
	return b
}

// TryConsume refills tokens for elapsed time then, if at least one token is
// available, consumes it and returns true. Thread-safe.
func (b *TokenBucket) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now().UnixNano()
	elapsedMs := float64(now-b.lastRefill) / 1e6
	if elapsedMs > 0 {
		b.tokens += elapsedMs * b.ratePerMinute / 60000.0
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}
