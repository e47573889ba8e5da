package drc

import (
	"sync"
)

// Correlator matches service replies to the requests waiting on them by
// transaction id. Each pending request owns a buffered channel of
// capacity one; resolution removes the entry before sending, so a reply
// is delivered at most once even when a late duplicate races a timeout.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan *ServiceReply
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[string]chan *ServiceReply),
	}
}

// Register creates a wait slot for the given transaction id and returns
// the channel its reply will arrive on. Registering an id twice replaces
// the previous slot; its waiter will never be resolved.
func (c *Correlator) Register(tid string) <-chan *ServiceReply {
	ch := make(chan *ServiceReply, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[tid] = ch

	return ch
}

// Resolve delivers a reply to the request waiting on its transaction id.
// It reports false when no request is waiting, which covers replies that
// arrive after their caller timed out.
func (c *Correlator) Resolve(rep *ServiceReply) bool {
	c.mu.Lock()
	ch, ok := c.pending[rep.TID]
	if ok {
		delete(c.pending, rep.TID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	// The slot was removed under the lock, so this send has exclusive
	// ownership of the capacity-one channel and cannot block.
	ch <- rep
	return true
}

// Cancel removes the wait slot for a transaction id. Safe to call after
// Resolve; the loser of the race is a no-op.
func (c *Correlator) Cancel(tid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, tid)
}

// Pending returns the number of requests still waiting for a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
