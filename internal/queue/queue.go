// Package queue carries ingestion tasks from submitters to workers with
// at-least-once delivery.
package queue

import (
	"context"
	"errors"

	"github.com/hyperjump/ingestd/internal/models"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Delivery is one dequeued task. It must be acked once the job reached a
// terminal state.
type Delivery struct {
	Task models.Task
	raw  []byte
}

// Queue is a FIFO of tasks.
type Queue interface {
	Enqueue(ctx context.Context, task models.Task) error
	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Recover puts deliveries that were never acked back on the queue and
	// returns how many were moved.
	Recover(ctx context.Context) (int, error)
	// Len returns the number of tasks waiting.
	Len(ctx context.Context) (int64, error)
	Close() error
}
