// Package clock provides an injectable monotonic time source so the
// batching pipeline's timer semantics can be driven deterministically in
// tests instead of relying on wall-clock sleeps.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts time.Now and time.AfterFunc so production code uses the
// real clock and tests use a Fake that advances on demand.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

// Real is the production Clock backed by the standard library.
type Real struct{}

// New returns the production Clock.
func New() Clock { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Fake is a manually-advanced Clock for deterministic tests. Zero value is
// ready to use; Now() starts at the Unix epoch.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	started bool
}

// NewFake returns a Fake clock set to the given initial time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, started: true}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		f.now = time.Unix(0, 0).UTC()
		f.started = true
	}
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, cb func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		f.now = time.Unix(0, 0).UTC()
		f.started = true
	}
	t := &fakeTimer{clock: f, fireAt: f.now.Add(d), cb: cb, active: true}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the fake clock forward by d, firing (in fireAt order) any
// timer whose deadline has elapsed. Callbacks run synchronously on the
// calling goroutine, matching AfterFunc's "runs in its own goroutine"
// contract closely enough for test purposes: callers that need concurrency
// semantics should not rely on Advance blocking other goroutines.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	if !f.started {
		f.now = time.Unix(0, 0).UTC()
		f.started = true
	}
	target := f.now.Add(d)
	f.now = target

	var due []*fakeTimer
	remaining := f.timers[:0]
	for _, t := range f.timers {
		t.mu.Lock()
		if t.active && !t.fireAt.After(target) {
			t.active = false
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
		t.mu.Unlock()
	}
	f.timers = remaining
	f.mu.Unlock()

	for _, t := range due {
		t.cb()
	}
}

type fakeTimer struct {
	clock  *Fake
	mu     sync.Mutex
	fireAt time.Time
	cb     func()
	active bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := t.active
	t.active = false
	return wasActive
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	base := t.clock.now
	t.clock.mu.Unlock()

	t.mu.Lock()
	wasActive := t.active
	t.active = true
	t.fireAt = base.Add(d)
	t.mu.Unlock()

	if !wasActive {
		t.clock.mu.Lock()
		t.clock.timers = append(t.clock.timers, t)
		t.clock.mu.Unlock()
	}
	return wasActive
}
