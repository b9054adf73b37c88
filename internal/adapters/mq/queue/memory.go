package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/startsit/pkg/metrics"
)

const defaultQueueCapacity = 100000

type delayed struct {
	taskID string
	due    time.Time
}

// InMemoryQueue implements Queue with per-name slices guarded by one mutex.
// Waiters park on a broadcast channel that is replaced on every push.
type InMemoryQueue struct {
	mu       sync.Mutex
	ready    map[string][]string
	delayed  map[string][]delayed
	signal   chan struct{}
	capacity int
	closed   bool
	now      func() time.Time
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		ready:    make(map[string][]string),
		delayed:  make(map[string][]delayed),
		signal:   make(chan struct{}),
		capacity: defaultQueueCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// notify wakes every waiter. Must be called with q.mu held.
func (q *InMemoryQueue) notify() {
	close(q.signal)
	q.signal = make(chan struct{})
}

func (q *InMemoryQueue) admit(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if q.closed {
		metrics.RecordQueueEnqueueError(name)
		return ErrClosed
	}
	if len(q.ready[name])+len(q.delayed[name]) >= q.capacity {
		metrics.RecordQueueEnqueueError(name)
		return fmt.Errorf("%w: %s at capacity %d", ErrFull, name, q.capacity)
	}
	return nil
}

// Enqueue appends taskID to the named queue.
func (q *InMemoryQueue) Enqueue(_ context.Context, name, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.admit(name); err != nil {
		return err
	}
	q.ready[name] = append(q.ready[name], taskID)
	metrics.UpdateQueueDepth(name, len(q.ready[name]))
	q.notify()
	return nil
}

// EnqueueAfter parks taskID until delay elapses.
func (q *InMemoryQueue) EnqueueAfter(ctx context.Context, name, taskID string, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, name, taskID)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.admit(name); err != nil {
		return err
	}
	items := append(q.delayed[name], delayed{taskID: taskID, due: q.now().Add(delay)})
	sort.SliceStable(items, func(i, j int) bool { return items[i].due.Before(items[j].due) })
	q.delayed[name] = items
	q.notify()
	return nil
}

// promote moves due delayed items to the ready tail and returns the next due
// time across names, or zero. Must be called with q.mu held.
func (q *InMemoryQueue) promote(names []string) time.Time {
	now := q.now()
	var next time.Time
	for _, name := range names {
		items := q.delayed[name]
		i := 0
		for ; i < len(items) && !items[i].due.After(now); i++ {
			q.ready[name] = append(q.ready[name], items[i].taskID)
		}
		q.delayed[name] = items[i:]
		if i < len(items) && (next.IsZero() || items[i].due.Before(next)) {
			next = items[i].due
		}
	}
	return next
}

// Dequeue blocks until a task is ready on one of names.
func (q *InMemoryQueue) Dequeue(ctx context.Context, names ...string) (Message, error) {
	if len(names) == 0 {
		return Message{}, ErrEmptyName
	}
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Message{}, ErrClosed
		}
		next := q.promote(names)
		for _, name := range names {
			if items := q.ready[name]; len(items) > 0 {
				id := items[0]
				q.ready[name] = items[1:]
				metrics.UpdateQueueDepth(name, len(q.ready[name]))
				q.mu.Unlock()
				return Message{Queue: name, TaskID: id}, nil
			}
		}
		wake := q.signal
		q.mu.Unlock()

		if err := q.wait(ctx, wake, next); err != nil {
			return Message{}, err
		}
	}
}

// wait parks until wake fires, the next delayed item is due, or ctx is done.
func (q *InMemoryQueue) wait(ctx context.Context, wake <-chan struct{}, next time.Time) error {
	var due <-chan time.Time
	if !next.IsZero() {
		t := time.NewTimer(next.Sub(q.now()))
		defer t.Stop()
		due = t.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
	case <-due:
	}
	return nil
}

// Remove drops taskID from the named queue.
func (q *InMemoryQueue) Remove(_ context.Context, name, taskID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := false
	ready := q.ready[name][:0]
	for _, id := range q.ready[name] {
		if id == taskID {
			removed = true
			continue
		}
		ready = append(ready, id)
	}
	q.ready[name] = ready

	items := q.delayed[name][:0]
	for _, d := range q.delayed[name] {
		if d.taskID == taskID {
			removed = true
			continue
		}
		items = append(items, d)
	}
	q.delayed[name] = items

	metrics.UpdateQueueDepth(name, len(q.ready[name]))
	return removed, nil
}

// Len returns the number of ready plus delayed items on the named queue.
func (q *InMemoryQueue) Len(_ context.Context, name string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.ready[name]) + len(q.delayed[name]), nil
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.notify()
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
