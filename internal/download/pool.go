package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrPoolRunning        = errors.New("worker pool already running")
	ErrPoolStopped        = errors.New("worker pool is not running")
	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")
)

// WorkerPool owns a generation of workers pulling from one queue.
//
// Start, Resize and StopAll are serialized. Workers are retired with stop
// markers, so a retiring worker finishes the task it is executing before it
// exits, and a new generation is only started once the old one has been
// joined. At no point do two generations run at once.
type WorkerPool struct {
	queue  Queue
	runner *runner
	poll   time.Duration

	ctx   context.Context
	abort context.CancelFunc

	// lifecycle is a one-slot semaphore held for the whole of a
	// start, resize or stop, including a join that outlives its caller.
	lifecycle chan struct{}

	mu      sync.RWMutex
	workers []*Worker
	nextID  int
	running bool
}

func newWorkerPool(q Queue, r *runner, poll time.Duration) *WorkerPool {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:     q,
		runner:    r,
		poll:      poll,
		ctx:       ctx,
		abort:     cancel,
		lifecycle: make(chan struct{}, 1),
	}
}

// Start launches n workers.
func (wp *WorkerPool) Start(n int) error {
	if n < 1 {
		return ErrInvalidWorkerCount
	}
	wp.lifecycle <- struct{}{}
	defer func() { <-wp.lifecycle }()

	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return ErrPoolRunning
	}
	wp.spawnLocked(n)
	wp.running = true

	wp.runner.log.Info(wp.ctx, "worker pool started", map[string]interface{}{"workers": n})
	return nil
}

// Resize replaces the current generation with n fresh workers. A stopped
// pool is simply started. When ctx ends before the old workers have exited,
// Resize returns ctx.Err() and the replacement completes in the background.
func (wp *WorkerPool) Resize(ctx context.Context, n int) error {
	if n < 1 {
		return ErrInvalidWorkerCount
	}
	if err := wp.acquire(ctx); err != nil {
		return err
	}

	old, err := wp.retire(ctx)
	if err != nil {
		<-wp.lifecycle
		return err
	}

	done := make(chan struct{})
	go func() {
		defer func() { <-wp.lifecycle }()
		defer close(done)

		join(old)

		wp.mu.Lock()
		wp.spawnLocked(n)
		wp.running = true
		wp.mu.Unlock()

		wp.runner.log.Info(wp.ctx, "worker pool resized", map[string]interface{}{
			"from": len(old),
			"to":   n,
		})
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll retires every worker and waits for them. When ctx ends first the
// workers keep finishing their current task in the background; a later Start
// or Resize waits for them.
func (wp *WorkerPool) StopAll(ctx context.Context) error {
	if err := wp.acquire(ctx); err != nil {
		return err
	}

	old, err := wp.retire(ctx)
	if err != nil {
		<-wp.lifecycle
		return err
	}

	done := make(chan struct{})
	go func() {
		defer func() { <-wp.lifecycle }()
		defer close(done)
		join(old)
	}()

	select {
	case <-done:
		wp.runner.log.Info(wp.ctx, "worker pool stopped", map[string]interface{}{"workers": len(old)})
		return nil
	case <-ctx.Done():
		wp.runner.log.Warn(wp.ctx, "worker pool stop timed out", map[string]interface{}{"workers": len(old)})
		return ctx.Err()
	}
}

// Abort cancels the context every worker and in-flight fetch runs under.
// It is the last step of a shutdown whose graceful stop timed out.
func (wp *WorkerPool) Abort() {
	wp.abort()
}

// Size returns the number of workers in the current generation.
func (wp *WorkerPool) Size() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return len(wp.workers)
}

// IsRunning returns whether the worker pool is currently running
func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}

func (wp *WorkerPool) acquire(ctx context.Context) error {
	select {
	case wp.lifecycle <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retire detaches the current generation and sends one stop marker per
// worker. Caller holds the lifecycle semaphore.
func (wp *WorkerPool) retire(ctx context.Context) ([]*Worker, error) {
	wp.mu.Lock()
	old := wp.workers
	wp.workers = nil
	wp.running = false
	wp.mu.Unlock()

	for i := range old {
		if err := wp.queue.PushSentinel(ctx); err != nil {
			// The markers already sent retire that many workers, whichever
			// pops them. The survivors stay the current generation.
			alive := reap(old, i)
			wp.mu.Lock()
			wp.workers = alive
			wp.running = len(alive) > 0
			wp.mu.Unlock()
			return nil, fmt.Errorf("failed to stop workers: %w", err)
		}
	}
	return old, nil
}

func (wp *WorkerPool) spawnLocked(n int) {
	for i := 0; i < n; i++ {
		wp.nextID++
		w := &Worker{id: wp.nextID, done: make(chan struct{})}
		wp.workers = append(wp.workers, w)
		go w.run(wp.ctx, wp.queue, wp.runner, wp.poll)
	}
}

func join(workers []*Worker) {
	for _, w := range workers {
		<-w.done
	}
}

// reap waits until n of workers have exited and returns the others.
func reap(workers []*Worker, n int) []*Worker {
	exited := make(chan *Worker, len(workers))
	for _, w := range workers {
		go func() {
			<-w.done
			exited <- w
		}()
	}

	gone := make(map[*Worker]bool, n)
	for i := 0; i < n; i++ {
		gone[<-exited] = true
	}

	var alive []*Worker
	for _, w := range workers {
		if !gone[w] {
			alive = append(alive, w)
		}
	}
	return alive
}
