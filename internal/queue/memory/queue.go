// Package memory provides the in-process target queue feeding workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained, and
// by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of targets with context-aware operations.
type Queue struct {
	ch      chan scrape.Target
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{ch: make(chan scrape.Target, capacity)}
}

// Enqueue pushes a target or returns when ctx ends.
func (q *Queue) Enqueue(ctx context.Context, target scrape.Target) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- target:
		return nil
	}
}

// Dequeue pops the next target. Buffered targets are still returned after
// Close; ErrClosed follows once the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (scrape.Target, error) {
	if err := ctx.Err(); err != nil {
		return scrape.Target{}, fmt.Errorf("dequeue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return scrape.Target{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case target, ok := <-q.ch:
		if !ok {
			return scrape.Target{}, ErrClosed
		}
		return target, nil
	}
}

// Len reports the number of buffered targets.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops further enqueues. Safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
