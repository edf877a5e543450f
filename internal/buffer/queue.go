// Package buffer provides the unbounded event queue that feeds stream consumers.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrTimeout is returned by Pop when no item arrives before the timeout.
var ErrTimeout = errors.New("queue pop timed out")

// Queue is an unbounded FIFO queue. Push is safe to call from any goroutine;
// Pop is meant for a single consumer.
//
// Producers never block, so a slow consumer only grows the queue in memory.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
}

// NewQueue creates an empty Queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		notify: make(chan struct{}, 1),
	}
}

// Push appends items to the tail of the queue in order.
func (q *Queue[T]) Push(items ...T) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()

	// Wake the consumer; one pending signal is enough since Pop drains
	// the slice before waiting again.
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop removes and returns the head of the queue without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Pop waits up to timeout for the head of the queue. It returns ErrTimeout
// when the timeout elapses and ctx.Err() when ctx is cancelled first.
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	if item, ok := q.TryPop(); ok {
		return item, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			if item, ok := q.TryPop(); ok {
				return item, nil
			}
		case <-timer.C:
			return zero, ErrTimeout
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
