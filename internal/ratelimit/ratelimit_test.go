package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-agent-gateway/gateway/internal/clock"
)

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	t.Parallel()
	c := clock.NewFake(time.Unix(0, 0))
	b := NewTokenBucket(c, 60, 5) // 1 token/sec, burst 5

	for i := 0; i < 5; i++ {
		assert.True(t, b.TryConsume(), "token %d should be available from initial burst", i)
	}
	assert.False(t, b.TryConsume(), "bucket should be empty after burst")

	c.Advance(1500 * time.Millisecond)
	assert.True(t, b.TryConsume(), "one token should have refilled after 1.5s")
	assert.False(t, b.TryConsume())
}

func TestTokenBucket_NeverExceedsCapacity(t *testing.T) {
	t.Parallel()
	c := clock.NewFake(time.Unix(0, 0))
	b := NewTokenBucket(c, 60, 3)

	c.Advance(time.Hour)
	count := 0
	for b.TryConsume() {
		count++
	}
	assert.Equal(t, 3, count, "long idle period should not overflow capacity")
}

func TestSlidingWindow_RejectsOverCap(t *testing.T) {
	t.Parallel()
	c := clock.NewFake(time.Unix(0, 0))
	w := NewSlidingWindow(c, 10*time.Second, 3)

	require.True(t, w.TryRecord())
	require.True(t, w.TryRecord())
	require.True(t, w.TryRecord())
	assert.False(t, w.TryRecord(), "fourth message within window must be rejected")

	c.Advance(11 * time.Second)
	assert.True(t, w.TryRecord(), "window should have fully expired")
}

func TestHybridLimiter_BothCommittedEvenOnPartialFailure(t *testing.T) {
	t.Parallel()
	c := clock.NewFake(time.Unix(0, 0))
	h := NewHybridLimiter(c, Config{
		TokensPerMinute:     600, // effectively unlimited tokens
		BucketCapacity:      100,
		MaxMessagesInWindow: 1,
		SlidingWindow:       time.Minute,
	})

	assert.True(t, h.TryAcquire())
	// Window is exhausted, token bucket would still admit -- overall must
	// reject, and critically the token spent on this rejected attempt
	// should not be refunded.
	assert.False(t, h.TryAcquire())
	assert.False(t, h.TryAcquire())
	assert.InDelta(t, 97.0, h.bucket.tokens, 1e-9, "both rejected attempts must still have spent a token")
}

func TestRegistry_PerUserIsolationAndEviction(t *testing.T) {
	t.Parallel()
	c := clock.NewFake(time.Unix(0, 0))
	r := NewRegistry(c, Config{TokensPerMinute: 60, BucketCapacity: 1, MaxMessagesInWindow: 5, SlidingWindow: time.Minute})

	alice := r.Get("alice")
	bob := r.Get("bob")
	assert.True(t, alice.TryAcquire())
	assert.False(t, alice.TryAcquire(), "alice's bucket of 1 should now be empty")
	assert.True(t, bob.TryAcquire(), "bob's limiter must be independent of alice's")

	assert.Equal(t, 2, r.Len())
	r.Evict("alice")
	assert.Equal(t, 1, r.Len())

	fresh := r.Get("alice")
	assert.True(t, fresh.TryAcquire(), "evicted user gets a freshly-seeded limiter")
}
