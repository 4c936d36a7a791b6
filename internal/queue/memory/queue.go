// Package memory provides the in-process work queue shared by crawl workers
// and the output sink.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO with pending-task accounting. Every item handed
// out by Dequeue must be acknowledged with exactly one call to Done; Join
// waits until all enqueued items have been acknowledged.
type Queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []T
	head    int
	pending int
	closed  bool
}

// NewQueue constructs an empty queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends item to the tail. It returns false without queuing the item
// if the queue has been closed.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.pending++
	q.cond.Broadcast()
	return true
}

// Dequeue blocks until an item is available and returns it. Items queued
// before Close are still handed out; once the queue is closed and empty
// every caller receives ErrClosed.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	stop := context.AfterFunc(ctx, q.wake)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == len(q.items) && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("dequeue canceled: %w", err)
	}
	if q.head == len(q.items) {
		return zero, ErrClosed
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return item, nil
}

// Done acknowledges one dequeued item.
func (q *Queue[T]) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending <= 0 {
		panic("memory: Done called more times than items were enqueued")
	}
	q.pending--
	if q.pending == 0 {
		q.cond.Broadcast()
	}
}

// Join blocks until every enqueued item has been acknowledged or ctx ends.
func (q *Queue[T]) Join(ctx context.Context) error {
	stop := context.AfterFunc(ctx, q.wake)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 && ctx.Err() == nil {
		q.cond.Wait()
	}
	if q.pending > 0 {
		return fmt.Errorf("join canceled: %w", ctx.Err())
	}
	return nil
}

// Close marks the queue as finished and wakes every waiting consumer.
// Closing twice is safe.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of items waiting to be dequeued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Pending returns the number of items enqueued but not yet acknowledged.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *Queue[T]) wake() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}
