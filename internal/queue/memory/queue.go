// Package memory provides the bounded in-process queue that feeds crawl workers.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained, and by
// Enqueue after Close.
var ErrClosed = crawler.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan crawler.Entity
	closeMu sync.RWMutex
	closed  bool
}

var _ crawler.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan crawler.Entity, capacity),
	}
}

// Enqueue pushes an entity into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, entity crawler.Entity) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- entity:
		return nil
	}
}

// Dequeue pops the next entity, respecting context cancellation. Entities
// buffered before Close are still delivered.
func (q *Queue) Dequeue(ctx context.Context) (crawler.Entity, error) {
	select {
	case <-ctx.Done():
		return crawler.Entity{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case entity, ok := <-q.ch:
		if !ok {
			return crawler.Entity{}, ErrClosed
		}
		return entity, nil
	}
}

// Close closes the underlying channel. It must not race a blocked Enqueue
// whose context never ends.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
