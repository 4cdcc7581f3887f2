// Package scheduler implements the central timer authority (C7): a single
// container/heap priority queue of pending fires, keyed by (userID, epoch,
// kind) so a stale timer from a superseded cycle is a cheap no-op instead of
// a race, driven by one injected clock.Timer rather than one goroutine per
// user.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/whatsapp-agent-gateway/gateway/internal/clock"
)

// Kind distinguishes the two timer roles a buffer can have armed at once.
type Kind int

const (
	SilenceTimer Kind = iota
	TimeoutTimer
)

// Key identifies one scheduled fire uniquely enough that a rearm or a drain
// can cancel exactly the right entry and nothing else.
type Key struct {
	UserID string
	Epoch  int64
	Kind   Kind
}

// Callback is invoked when a timer's deadline elapses and it has not been
// cancelled in the meantime. It runs on whatever goroutine drives the
// underlying clock (the real timer's own goroutine in production, or the
// caller of Fake.Advance in tests) -- it must not block.
type Callback func(Key)

type entry struct {
	key    Key
	fireAt time.Time
	index  int
}

type timerHeap []*entry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].fireAt.Before(h[j].fireAt) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler owns the heap and the single underlying timer. All public
// methods are safe for concurrent use.
type Scheduler struct {
	clock  clock.Clock
	onFire Callback

	mu      sync.Mutex
	byKey   map[Key]*entry
	heap    timerHeap
	timer   clock.Timer
	stopped bool
}

// New constructs an armed-but-idle Scheduler. onFire is called for every
// timer that reaches its deadline without being cancelled first.
func New(c clock.Clock, onFire Callback) *Scheduler {
	return &Scheduler{
		clock:  c,
		onFire: onFire,
		byKey:  make(map[Key]*entry),
	}
}

// Arm schedules key to fire after d, replacing any existing timer for the
// same key (rearm semantics -- used when a silence timer is reset by a new
// message in the same cycle).
func (s *Scheduler) Arm(key Key, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.byKey[key]; ok {
		s.removeLocked(old)
	}
	e := &entry{key: key, fireAt: s.clock.Now().Add(d)}
	s.byKey[key] = e
	heap.Push(&s.heap, e)
	s.rescheduleLocked()
}

// Cancel removes any pending timer for key. A no-op if nothing is armed.
func (s *Scheduler) Cancel(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byKey[key]; ok {
		s.removeLocked(e)
		delete(s.byKey, key)
		s.rescheduleLocked()
	}
}

// CancelUser removes every pending timer (both kinds, any epoch) for
// userID. Used when a user is idle-evicted or force-drained.
func (s *Scheduler) CancelUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for k, e := range s.byKey {
		if k.UserID == userID {
			s.removeLocked(e)
			delete(s.byKey, k)
			changed = true
		}
	}
	if changed {
		s.rescheduleLocked()
	}
}

func (s *Scheduler) removeLocked(e *entry) {
	if e.index < 0 || e.index >= len(s.heap) || s.heap[e.index] != e {
		return
	}
	heap.Remove(&s.heap, e.index)
}

// rescheduleLocked points the single underlying timer at the current
// earliest deadline, or stops it when the heap is empty. Must hold mu.
func (s *Scheduler) rescheduleLocked() {
	if len(s.heap) == 0 {
		if s.timer != nil {
			s.timer.Stop()
		}
		return
	}
	d := s.heap[0].fireAt.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	if s.timer == nil {
		s.timer = s.clock.AfterFunc(d, s.onTick)
		return
	}
	s.timer.Reset(d)
}

// onTick fires every due entry and reschedules for whatever remains.
func (s *Scheduler) onTick() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	var due []Key
	for len(s.heap) > 0 && !s.heap[0].fireAt.After(now) {
		e := heap.Pop(&s.heap).(*entry)
		delete(s.byKey, e.key)
		due = append(due, e.key)
	}
	s.rescheduleLocked()
	s.mu.Unlock()

	for _, k := range due {
		s.onFire(k)
	}
}

// Stop cancels every pending timer; no further callbacks fire afterward.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.heap = nil
	s.byKey = make(map[Key]*entry)
}

// Pending reports how many timers are currently armed (metrics/testing).
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}
