package syncbridge

import (
	"sync"
)

// queue is an unbounded FIFO. push never blocks, so store and broker
// callbacks can hand events to the loop without waiting on it.
type queue struct {
	mu     sync.Mutex
	items  []event
	closed bool
	ready  chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

// push appends ev; events pushed after close are discarded
func (q *queue) push(ev event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// drain takes every pending event in arrival order
func (q *queue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
}
