package queue

import (
	"context"
	"sync"

	"github.com/hyperjump/ingestd/internal/models"
)

// DefaultMemoryCapacity is the buffer size used when none is given.
const DefaultMemoryCapacity = 1024

// MemoryQueue is a buffered channel. Deliveries are lost if the process
// exits, so Recover is a no-op.
type MemoryQueue struct {
	ch       chan models.Task
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	inflight int
}

// NewMemoryQueue returns a queue holding up to capacity tasks.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryQueue{ch: make(chan models.Task, capacity), done: make(chan struct{})}
}

// Enqueue blocks while the buffer is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, task models.Task) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- task:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue waits for the next task.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case task := <-q.ch:
		q.mu.Lock()
		q.inflight++
		q.mu.Unlock()
		return &Delivery{Task: task}, nil
	case <-q.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack marks a delivery finished.
func (q *MemoryQueue) Ack(_ context.Context, _ *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight > 0 {
		q.inflight--
	}
	return nil
}

// Recover has nothing to restore for an in-process queue.
func (q *MemoryQueue) Recover(context.Context) (int, error) { return 0, nil }

// Len returns the number of buffered tasks.
func (q *MemoryQueue) Len(context.Context) (int64, error) { return int64(len(q.ch)), nil }

// InFlight returns the number of dequeued but unacked deliveries.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}

// Close wakes blocked callers. Buffered tasks are dropped.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
