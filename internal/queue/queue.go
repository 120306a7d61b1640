// Package queue provides the unbounded FIFO used between the runtime's
// goroutines: source queues, action-plan queues and the event log.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Get once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a thread-safe, unbounded FIFO.
//
// Put never blocks, so producers (sources, engine callbacks, broadcasts)
// cannot stall on a slow consumer. A single consumer waits with Get, which
// observes context cancellation.
//
// The queue uses a channel for signaling to enable context-aware waiting.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // buffered, size 1
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items:  make([]T, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Put appends an item to the back of the queue.
// Safe from any goroutine. Returns false if the queue is closed.
func (q *Queue[T]) Put(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryGet removes and returns the front item without blocking.
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	// Clear the slot so the backing array does not pin the item.
	q.items[0] = zero

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return item, true
}

// Get blocks until an item is available, the context is done, or the queue
// is closed and empty.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		if item, ok := q.TryGet(); ok {
			return item, nil
		}

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the current queue length.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close signals that no more items will be added. Items already queued can
// still be drained with Get.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
