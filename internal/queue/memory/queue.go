// Package memory provides trigger queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// ErrClosed is returned by Enqueue and Dequeue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory trigger queue with context-aware operations.
type Queue struct {
	ch      chan review.Trigger
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:   make(chan review.Trigger, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a trigger into the queue. It returns ErrClosed after Close,
// including when the call was already blocked on a full queue.
func (q *Queue) Enqueue(ctx context.Context, trigger review.Trigger) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- trigger:
		return nil
	}
}

// Dequeue pops the next trigger, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (review.Trigger, error) {
	select {
	case <-ctx.Done():
		return review.Trigger{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return review.Trigger{}, ErrClosed
	case trigger := <-q.ch:
		return trigger, nil
	}
}

// Close signals shutdown. The trigger channel itself stays open so concurrent
// Enqueue calls fail through the done channel instead of panicking.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
