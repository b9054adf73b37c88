// Package queue defines named task queues and their in-memory and Redis backends.
//
// A queue carries task ids only; the task record lives in the repository.
// Each queue is FIFO. Delayed items (retry backoff) become ready once their
// delay elapses and then join the tail of their queue.
package queue

import (
	"context"
	"time"
)

// Message is one dequeued task reference.
type Message struct {
	Queue  string
	TaskID string
}

// Queue is the contract shared by all backends.
type Queue interface {
	// Enqueue appends taskID to the named queue.
	Enqueue(ctx context.Context, name, taskID string) error

	// EnqueueAfter makes taskID ready on the named queue once delay elapses.
	EnqueueAfter(ctx context.Context, name, taskID string, delay time.Duration) error

	// Dequeue blocks until a task is ready on one of names (checked in
	// order), ctx is done, or the queue is closed.
	Dequeue(ctx context.Context, names ...string) (Message, error)

	// Remove drops taskID from the named queue, ready or delayed.
	// It reports whether anything was removed.
	Remove(ctx context.Context, name, taskID string) (bool, error)

	// Len returns the number of ready plus delayed items on the named queue.
	Len(ctx context.Context, name string) (int, error)

	// Close stops the queue. Pending Dequeue calls return ErrClosed.
	Close() error
}
