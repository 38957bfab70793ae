package download

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueEmpty is returned by Pop when the timeout elapsed with nothing to take.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrStopMarker is returned by Pop instead of a task when the popping
	// worker has been asked to exit.
	ErrStopMarker = errors.New("stop marker")

	ErrQueueClosed = errors.New("queue is closed")
)

// Queue is the FIFO that hands tasks to workers. Stop markers pushed with
// PushSentinel are delivered ahead of any waiting task so that retiring
// workers never take new work.
type Queue interface {
	Push(ctx context.Context, task *Task) error
	PushSentinel(ctx context.Context) error
	// Pop waits up to timeout for an item. timeout <= 0 waits until ctx is done.
	Pop(ctx context.Context, timeout time.Duration) (*Task, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu      sync.Mutex
	items   []*Task
	stops   int
	closed  bool
	ready   chan struct{}
	closeCh chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		ready:   make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

func (q *MemoryQueue) Push(ctx context.Context, task *Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, task)
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *MemoryQueue) PushSentinel(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.stops++
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) (*Task, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		task, ok, err := q.take()
		if ok {
			return task, err
		}

		select {
		case <-q.ready:
		case <-q.closeCh:
		case <-expired:
			return nil, ErrQueueEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// take removes the next item if there is one. ok is false when the caller
// has to wait.
func (q *MemoryQueue) take() (task *Task, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.stops > 0:
		q.stops--
		ok, err = true, ErrStopMarker
	case len(q.items) > 0:
		task = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		ok = true
	case q.closed:
		return nil, true, ErrQueueClosed
	default:
		return nil, false, nil
	}

	// wake the next waiter if work remains
	if q.stops > 0 || len(q.items) > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return task, ok, err
}

func (q *MemoryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of waiting tasks. Stop markers are not counted.
func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Close wakes every waiter. Items already queued can still be popped.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.closeCh)
	}
	return nil
}
