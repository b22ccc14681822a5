// Package memory provides an in-process run queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
)

// ErrQueueClosed is returned by Dequeue once the queue is closed and drained,
// and by Enqueue after Close.
var ErrQueueClosed = content.ErrQueueClosed

// Queue is a bounded in-memory run queue with context-aware operations.
type Queue struct {
	ch      chan content.RunRequest
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue holding up to capacity pending requests.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan content.RunRequest, capacity),
	}
}

// Enqueue pushes a request or returns when the context ends.
func (q *Queue) Enqueue(ctx context.Context, req content.RunRequest) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (content.RunRequest, error) {
	select {
	case <-ctx.Done():
		return content.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return content.RunRequest{}, ErrQueueClosed
		}
		return req, nil
	}
}

// Len reports the number of pending requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting requests. Pending requests can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
