// Package queue provides an unbounded FIFO for handing work between goroutines.
package queue

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// Queue is an unbounded, concurrency-safe FIFO. Push never blocks.
type Queue[T any] struct {
	mu     sync.Mutex
	items  *linkedlistqueue.Queue
	signal chan struct{}
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items:  linkedlistqueue.New(),
		signal: make(chan struct{}, 1),
	}
}

// Push appends v to the tail of the queue.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items.Enqueue(v)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryPop removes and returns the head of the queue without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeueLocked()
}

// Pop waits until an item is available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.signal:
		}
	}
}

// Drain removes and returns every queued item in FIFO order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, q.items.Size())
	for {
		v, ok := q.dequeueLocked()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}

func (q *Queue[T]) dequeueLocked() (T, bool) {
	raw, ok := q.items.Dequeue()
	if !ok {
		var zero T
		return zero, false
	}
	v, _ := raw.(T)
	// Another item may still be waiting; keep the signal primed for the next Pop.
	if !q.items.Empty() {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return v, true
}
