package core

import "sync"

// DrainMode controls how many queued messages a single drain removes.
type DrainMode int

const (
	// DrainOne removes at most one message per drain.
	DrainOne DrainMode = iota
	// DrainAll removes every queued message per drain.
	DrainAll
)

// MessageQueue is a FIFO queue of user messages injectable from outside a
// run at any time. Push is safe for concurrent use; Drain is called only by
// the run's background driver at its defined boundaries (steering after a
// tool batch, follow-up after a turn that requested no tools).
type MessageQueue struct {
	mu    sync.Mutex
	items []UserMessage
	mode  DrainMode
}

// NewMessageQueue creates an empty queue with the given drain mode.
func NewMessageQueue(mode DrainMode) *MessageQueue {
	return &MessageQueue{mode: mode}
}

// Push appends a message preserving injection order.
func (q *MessageQueue) Push(msg UserMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, msg)
}

// Drain removes and returns queued messages per the drain mode. It never
// blocks: an empty queue returns nil immediately.
func (q *MessageQueue) Drain() []UserMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	n := len(q.items)
	if q.mode == DrainOne {
		n = 1
	}

	drained := q.items[:n:n]
	q.items = q.items[n:]

	return drained
}

// Len returns the number of queued messages.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
