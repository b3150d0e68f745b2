package framequeue

import (
	"sync"
	"sync/atomic"
)

// Stats is a snapshot of queue counters
type Stats struct {
	// Published is the number of items enqueued
	Published uint64
	// Dropped is the number of queued items discarded to make room
	Dropped uint64
	// Rejected is the number of Publish calls after Close
	Rejected uint64
	// Len is the number of items currently queued
	Len int
	// Cap is the queue capacity
	Cap int
}

// Queue is a bounded FIFO that evicts its oldest item on overflow.
type Queue[T any] struct {
	// mu serializes producers and Close; consumers never take it
	mu     sync.Mutex
	ch     chan T
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
	rejected  atomic.Uint64
}

// New creates a queue holding at most capacity items. Capacity below 1 is raised to 1.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		ch: make(chan T, capacity),
	}
}

// Publish enqueues v without blocking.
//
// If the queue is full, the oldest queued item is discarded first and dropped is
// true. Publishing to a closed queue is a no-op.
func (q *Queue[T]) Publish(v T) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.rejected.Add(1)
		return false
	}

	for {
		select {
		case q.ch <- v:
			q.published.Add(1)
			return dropped
		default:
		}

		// Full: evict one. A consumer may have emptied a slot in between, in
		// which case the receive fails and the send is retried.
		select {
		case <-q.ch:
			q.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// C returns the receive side. It is closed by Close once drained.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Close stops the queue. Items already queued remain receivable. Close is
// idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Closed reports whether Close has been called
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Stats returns a snapshot of the queue counters
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Published: q.published.Load(),
		Dropped:   q.dropped.Load(),
		Rejected:  q.rejected.Load(),
		Len:       len(q.ch),
		Cap:       cap(q.ch),
	}
}
