// Package queue buffers location fixes between ingress and a user's recorder.
//
// Each tracked user owns one bounded in-memory queue; fixes that do not fit
// are rejected rather than blocking the caller.
package queue

import (
	"context"
	"sync"

	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 256
)

// Fix is the payload type flowing through the queue.
type Fix = model.Fix

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a fix to the queue.
	// Returns false if the queue is full or closed and the fix was not enqueued.
	Enqueue(ctx context.Context, f Fix) bool

	// Dequeue returns a channel that will receive fixes as they become available.
	// The channel will be closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Fix

	// Len returns the current number of queued fixes.
	Len() int

	// Close stops accepting fixes; queued fixes are still delivered.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	fixes    chan Fix
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.fixes = make(chan Fix, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	return q
}

// Enqueue adds a fix to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, f Fix) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	select {
	case q.fixes <- f:
		metrics.RecordQueueEnqueue()
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that will receive fixes as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Fix {
	out := make(chan Fix)
	go func() {
		defer close(out)
		for f := range q.fixes {
			select {
			case out <- f:
				metrics.RecordQueueDequeue()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued fixes.
func (q *InMemoryQueue) Len() int {
	return len(q.fixes)
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.fixes)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
