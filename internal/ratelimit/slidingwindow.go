package ratelimit

import (
	"sync"
	"time"

	"github.com/whatsapp-agent-gateway/gateway/internal/clock"
)

// SlidingWindow enforces a hard cap of at most maxInWindow admissions within
// any rolling windowMs interval. Timestamps are kept in arrival order so
// pruning expired entries is always a prefix trim.
type SlidingWindow struct {
	clock       clock.Clock
	windowMs    int64
	maxInWindow int

	mu         sync.Mutex
	timestamps []int64 // unix nanos, ascending
}

// NewSlidingWindow constructs an empty window.
func NewSlidingWindow(c clock.Clock, window time.Duration, maxInWindow int) *SlidingWindow {
	return &SlidingWindow{
		clock:       c,
		windowMs:    window.Milliseconds(),
		maxInWindow: maxInWindow,
	}
}

// TryRecord prunes expired timestamps, and if fewer than maxInWindow remain,
// records now and returns true; otherwise rejects without recording.
func (w *SlidingWindow) TryRecord() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	cutoff := now.UnixNano() - w.windowMs*int64(time.Millisecond)

	i := 0
	for i < len(w.timestamps) && w.timestamps[i] < cutoff {
		i++
	}
	if i > 0 {
		w.timestamps = w.timestamps[i:]
	}

	if len(w.timestamps) < w.maxInWindow {
		w.timestamps = append(w.timestamps, now.UnixNano())
		return true
	}
	return false
}
