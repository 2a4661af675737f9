// Package pipeline implements the four bounded, in-process stage queues
// that connect the Download/Youtube/Convert/Upload worker pools: a
// multi-producer multi-consumer FIFO with backpressure-by-waiting, closed
// only at process shutdown.
package pipeline

import (
	"context"
	"errors"
)

// ErrClosed is returned by Dequeue once the queue has been closed and
// drained, and by Enqueue/TryEnqueue once the queue has been closed.
var ErrClosed = errors.New("pipeline: queue closed")

// ErrFull is returned by TryEnqueue when the queue has no free slot.
var ErrFull = errors.New("pipeline: queue full")

// Queue is a bounded FIFO channel wrapper shared by all four pipeline
// stages. Its zero value is not usable; construct with New.
type Queue[T any] struct {
	ch     chan T
	closed chan struct{}
}

// New creates a Queue with the given capacity (must be >= 1).
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Enqueue blocks until a slot is free, the context is cancelled, or the
// queue is closed. Used by stages forwarding a payload to the next queue,
// per spec's admission policy (producers wait).
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case q.ch <- item:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue enqueues without blocking, failing fast with ErrFull if the
// queue has no free slot. Used by the Dispatcher on the initial enqueue,
// per spec's admission policy (fail fast at the door).
func (q *Queue[T]) TryEnqueue(item T) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue blocks until an item arrives, the context is cancelled, or the
// queue is closed with nothing left buffered, in which case it returns
// ErrClosed. Buffered items are always drained before ErrClosed is
// surfaced, even after Close has been called.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T

	// Prefer a buffered item over a closed/cancelled signal so shutdown
	// always drains what producers already handed off.
	select {
	case item := <-q.ch:
		return item, nil
	default:
	}

	select {
	case item := <-q.ch:
		return item, nil
	case <-q.closed:
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close signals shutdown: no further Enqueue/TryEnqueue calls succeed.
// Already-buffered items remain available to Dequeue until drained. Safe
// to call more than once; queues are closed only at process shutdown, per
// spec.
func (q *Queue[T]) Close() {
	select {
	case <-q.closed:
		return
	default:
		close(q.closed)
	}
}

// Len reports the number of items currently buffered.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}
