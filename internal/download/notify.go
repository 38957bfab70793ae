package download

import "sync"

// Notifier receives task snapshots after every state or progress change.
// Calls come from a single dispatcher goroutine, in the order the changes
// happened, and never from a worker directly.
type Notifier interface {
	Notify(snap TaskSnapshot)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(TaskSnapshot)

func (f NotifierFunc) Notify(snap TaskSnapshot) { f(snap) }

// MultiNotifier fans a snapshot out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(snap TaskSnapshot) {
	for _, n := range m {
		if n != nil {
			n.Notify(snap)
		}
	}
}

// eventQueue is an unbounded FIFO of snapshots. Producers never block, so a
// slow notifier cannot stall a worker.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []TaskSnapshot
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(snap TaskSnapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, snap)
	q.cond.Signal()
}

// next blocks until an event is available. It returns false once the queue
// is closed and drained.
func (q *eventQueue) next() (TaskSnapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return TaskSnapshot{}, false
	}
	snap := q.items[0]
	q.items[0] = TaskSnapshot{}
	q.items = q.items[1:]
	return snap, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
