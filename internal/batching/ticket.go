package batching

import "sync"

// ticketLock is a strictly-FIFO mutual exclusion primitive: callers draw a
// ticket synchronously (at drain time, on whichever goroutine triggered the
// drain) and are served in ticket order regardless of which goroutine
// happens to run first. A plain sync.Mutex does not guarantee this, and the
// per-user serialisation requirement is an ordering guarantee, not just a
// mutual-exclusion one: batches from the same user must be processed in the
// order they were formed.
type ticketLock struct {
	mu         sync.Mutex
	cond       *sync.Cond
	next       uint64
	serving    uint64
}

func newTicketLock() *ticketLock {
	l := &ticketLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// draw reserves the next ticket. Call this synchronously at the moment
// ordering must be fixed (e.g. right after UserBuffer.Drain returns).
func (l *ticketLock) draw() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.next
	l.next++
	return t
}

// await blocks until ticket is being served.
func (l *ticketLock) await(ticket uint64) {
	l.mu.Lock()
	for l.serving != ticket {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

// release advances service to the next ticket and wakes all waiters.
func (l *ticketLock) release() {
	l.mu.Lock()
	l.serving++
	l.cond.Broadcast()
	l.mu.Unlock()
}
