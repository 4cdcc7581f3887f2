package ratelimit

import (
	"sync"
	"time"

	"github.com/whatsapp-agent-gateway/gateway/internal/clock"
)

// Config carries the construction parameters for one user's HybridLimiter.
type Config struct {
	TokensPerMinute    int
	BucketCapacity     int
	MaxMessagesInWindow int
	SlidingWindow      time.Duration
}

// HybridLimiter composes a TokenBucket and a SlidingWindow: both must admit
// for TryAcquire to succeed. Critically, both are always evaluated and
// committed regardless of the other's outcome -- a sliding-window rejection
// still spends a token. Both are ceilings; wasting a token on a window
// rejection is intentional (spec decision, not a bug).
type HybridLimiter struct {
	bucket *TokenBucket
	window *SlidingWindow
}

// NewHybridLimiter constructs the pair for one user.
func NewHybridLimiter(c clock.Clock, cfg Config) *HybridLimiter {
	return &HybridLimiter{
		bucket: NewTokenBucket(c, cfg.TokensPerMinute, cfg.BucketCapacity),
		window: NewSlidingWindow(c, cfg.SlidingWindow, cfg.MaxMessagesInWindow),
	}
}

// TryAcquire evaluates both the token bucket and the sliding window and
// returns the conjunction of their results. Both component calls always run;
// neither short-circuits the other.
func (h *HybridLimiter) TryAcquire() bool {
	tokenOK := h.bucket.TryConsume()
	windowOK := h.window.TryRecord()
	return tokenOK && windowOK
}

// Registry lazily creates and caches one HybridLimiter per user.
type Registry struct {
	clock clock.Clock
	cfg   Config

	mu       sync.Mutex
	limiters map[string]*HybridLimiter
}

// NewRegistry constructs an empty per-user limiter registry.
func NewRegistry(c clock.Clock, cfg Config) *Registry {
	return &Registry{clock: c, cfg: cfg, limiters: make(map[string]*HybridLimiter)}
}

// Get returns the HybridLimiter for userID, creating one on first access.
func (r *Registry) Get(userID string) *HybridLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[userID]
	if !ok {
		l = NewHybridLimiter(r.clock, r.cfg)
		r.limiters[userID] = l
	}
	return l
}

// Evict drops the cached limiter for userID (idle-eviction sweep, §9).
func (r *Registry) Evict(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, userID)
}

// Len reports the number of cached limiters (metrics/testing).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
