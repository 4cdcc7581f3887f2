// Package buffer implements the per-user bounded FIFO (C6) that holds
// pending messages between ingest and batch dispatch, plus the named
// backpressure strategies (spec §4.7) applied when it is full.
package buffer

import (
	"sync"
	"time"

	"github.com/whatsapp-agent-gateway/gateway/internal/clock"
	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

// Policy names the backpressure strategy applied when enqueue would exceed
// capacity. It is a component-level configuration, not per-message.
type Policy int

const (
	DropNew Policy = iota
	DropOldest
	FlushAndAccept
	RejectWithNotify
	BlockUntilSpace
)

// EnqueueOutcome reports what happened to an Enqueue call so the caller
// (BatchingService) can decide whether to arm timers, notify the user, or
// do nothing.
type EnqueueOutcome int

const (
	// Accepted: the message joined the current (possibly newly-armed) cycle.
	Accepted EnqueueOutcome = iota
	// AcceptedAfterFlush: FlushAndAccept forced a drain first; caller must
	// dispatch the returned flushed batch before the new cycle proceeds.
	AcceptedAfterFlush
	// DroppedSilently: DROP_NEW discarded the message.
	DroppedSilently
	// RejectedNotify: REJECT_WITH_NOTIFY discarded the message; caller should
	// emit a best-effort user notification.
	RejectedNotify
)

// EnqueueResult is the full result of one Enqueue call.
type EnqueueResult struct {
	Outcome EnqueueOutcome
	// Epoch identifies the cycle the message (if accepted) landed in. The
	// scheduler arms/rearms timers keyed by (userID, Epoch).
	Epoch int64
	// FirstInCycle is true when this enqueue transitioned Idle->Armed, i.e.
	// both timers must be freshly armed rather than just the silence timer
	// reset.
	FirstInCycle bool
	// Flushed holds the batch forced out by FLUSH_AND_ACCEPT, if any.
	Flushed []models.Message
}

// UserBuffer is the bounded FIFO + scheduling state for one user. All
// mutating operations (Enqueue, Drain, RemoveOldest) are mutually exclusive
// via mu; Drain empties the queue atomically so no observer can see a
// partial drain. The epoch is bumped by the next Enqueue that starts a
// fresh cycle, not by Drain itself.
type UserBuffer struct {
	clock clock.Clock

	mu            sync.Mutex
	queue         []models.Message
	cap           int
	policy        Policy
	blockTimeout  time.Duration
	lastMessageAt time.Time
	epoch         int64 // increments every time Idle->Armed
	silenceArmed  bool
	timeoutArmed  bool
}

// New constructs an empty UserBuffer with the given capacity and
// backpressure policy. blockTimeout is only consulted for BlockUntilSpace.
func New(c clock.Clock, capacity int, policy Policy, blockTimeout time.Duration) *UserBuffer {
	return &UserBuffer{
		clock:        c,
		cap:          capacity,
		policy:       policy,
		blockTimeout: blockTimeout,
	}
}

// Enqueue appends msg to the queue, applying the configured backpressure
// policy if the buffer is at capacity. Returns whether this is the first
// message of a fresh Armed cycle (so the caller must arm both timers) or a
// rearm of an already-Armed cycle (silence timer only).
func (b *UserBuffer) Enqueue(msg models.Message) EnqueueResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	var flushed []models.Message
	if len(b.queue) >= b.cap {
		switch b.policy {
		case DropNew:
			return EnqueueResult{Outcome: DroppedSilently}
		case RejectWithNotify:
			return EnqueueResult{Outcome: RejectedNotify}
		case DropOldest:
			b.queue = b.queue[1:]
		case FlushAndAccept:
			flushed = b.drainLocked()
		case BlockUntilSpace:
			// Ingest must not truly block the caller's goroutine forever;
			// the caller is expected to treat this the same as DropNew when
			// the configured blockTimeout collapses to "try once". Modelled
			// here as an immediate DropNew fallback: the bounded wait itself
			// happens one layer up (BatchingService), which may retry
			// Enqueue until blockTimeout elapses before giving up.
			return EnqueueResult{Outcome: DroppedSilently}
		}
	}

	firstInCycle := len(b.queue) == 0
	if firstInCycle {
		b.epoch++
	}

	b.queue = append(b.queue, msg)
	if msg.ReceivedAt.After(b.lastMessageAt) {
		b.lastMessageAt = msg.ReceivedAt
	}

	outcome := Accepted
	if len(flushed) > 0 {
		outcome = AcceptedAfterFlush
	}
	return EnqueueResult{
		Outcome:      outcome,
		Epoch:        b.epoch,
		FirstInCycle: firstInCycle,
		Flushed:      flushed,
	}
}

// RemoveOldest pops the oldest message without draining the whole buffer.
// Returns false if the buffer is empty.
func (b *UserBuffer) RemoveOldest() (models.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return models.Message{}, false
	}
	m := b.queue[0]
	b.queue = b.queue[1:]
	return m, true
}

// Drain atomically snapshots and empties the queue, cancels any armed
// timers (the caller must still tell the scheduler to forget this epoch),
// and returns the ordered batch. The buffer returns to Idle.
func (b *UserBuffer) Drain() []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drainLocked()
}

func (b *UserBuffer) drainLocked() []models.Message {
	batch := b.queue
	b.queue = nil
	b.silenceArmed = false
	b.timeoutArmed = false
	return batch
}

// Size returns the current queue length.
func (b *UserBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// IsEmpty reports whether the queue currently holds no messages.
func (b *UserBuffer) IsEmpty() bool {
	return b.Size() == 0
}

// LastMessageAt returns the receivedAt of the most recently enqueued message.
func (b *UserBuffer) LastMessageAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastMessageAt
}

// Epoch returns the current cycle identifier.
func (b *UserBuffer) Epoch() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epoch
}

// MarkSilenceArmed/MarkTimeoutArmed/CancelAll track whether this buffer
// believes it has an outstanding scheduled callback, purely for invariant
// bookkeeping -- actual cancellation lives in the scheduler.
func (b *UserBuffer) MarkSilenceArmed(armed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.silenceArmed = armed
}

func (b *UserBuffer) MarkTimeoutArmed(armed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeoutArmed = armed
}

// CancelAll clears the armed-timer bookkeeping flags (used at shutdown).
func (b *UserBuffer) CancelAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.silenceArmed = false
	b.timeoutArmed = false
}

// Policy returns the configured backpressure policy.
func (b *UserBuffer) Policy() Policy { return b.policy }

// BlockTimeout returns the configured BLOCK_UNTIL_SPACE wait bound.
func (b *UserBuffer) BlockTimeout() time.Duration { return b.blockTimeout }

// Cap returns the configured capacity.
func (b *UserBuffer) Cap() int { return b.cap }
