// Package connect provides the message channels that link federates and
// server nodes: a closable FIFO queue and the sender/receiver pair built
// on it.
package connect

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Send once the queue is closed.
var ErrClosed = errors.New("connect: channel closed")

// Queue is an unbounded FIFO shared between goroutines. Send never blocks.
// Close is terminal: pending items are dropped, later sends fail and
// receivers observe end of stream.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	// signal holds at most one wakeup. A receiver that leaves items
	// behind passes it on to the next.
	signal chan struct{}
	done   chan struct{}
}

// NewQueue returns an open, empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Send appends item to the queue.
func (q *Queue[T]) Send(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.wake()
	return nil
}

func (q *Queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryReceive pops the next item without blocking.
func (q *Queue[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.closed || len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	// Sends that found the signal full still need a receiver each.
	if len(q.items) > 0 {
		q.wake()
	}
	return item, true
}

// Receive blocks until an item arrives, the queue is closed or ctx ends.
// The boolean is false when no item was received.
func (q *Queue[T]) Receive(ctx context.Context) (T, bool) {
	for {
		if item, ok := q.TryReceive(); ok {
			return item, true
		}
		select {
		case <-q.signal:
		case <-q.done:
			var zero T
			return zero, false
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// ReceiveTimeout waits at most d for the next item. A non-positive d polls.
func (q *Queue[T]) ReceiveTimeout(d time.Duration) (T, bool) {
	if d <= 0 {
		return q.TryReceive()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return q.Receive(ctx)
}

// Close drops pending items and wakes every receiver. It is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}

// Empty reports whether no item is waiting.
func (q *Queue[T]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// IsOpen reports whether Close has not been called.
func (q *Queue[T]) IsOpen() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.closed
}

// Len returns the number of waiting items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Done is closed when the queue closes.
func (q *Queue[T]) Done() <-chan struct{} { return q.done }
