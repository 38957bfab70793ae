package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	var pushed []*Task
	for i := 0; i < 3; i++ {
		task := NewTask(fmt.Sprintf("https://example.com/%d", i), false, "")
		pushed = append(pushed, task)
		if err := q.Push(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	if n, _ := q.Len(ctx); n != 3 {
		t.Errorf("Len() = %d, want 3", n)
	}
	for i, want := range pushed {
		got, err := q.Pop(ctx, time.Second)
		if err != nil {
			t.Fatalf("Pop #%d: %v", i, err)
		}
		if got != want {
			t.Errorf("Pop #%d returned task %d, want %d", i, got.ID, want.ID)
		}
	}
}

func TestMemoryQueue_PopTimeout(t *testing.T) {
	q := NewMemoryQueue()

	start := time.Now()
	_, err := q.Pop(context.Background(), 30*time.Millisecond)
	if !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("Pop() error = %v, want ErrQueueEmpty", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Pop returned after %v, before the timeout", elapsed)
	}
}

func TestMemoryQueue_SentinelFirst(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	task := NewTask("https://example.com/a", false, "")
	q.Push(ctx, task)
	q.PushSentinel(ctx)
	q.PushSentinel(ctx)

	for i := 0; i < 2; i++ {
		if _, err := q.Pop(ctx, time.Second); !errors.Is(err, ErrStopMarker) {
			t.Fatalf("Pop #%d error = %v, want ErrStopMarker", i, err)
		}
	}
	got, err := q.Pop(ctx, time.Second)
	if err != nil || got != task {
		t.Fatalf("Pop() = %v, %v; want the queued task", got, err)
	}
}

func TestMemoryQueue_WakesWaiter(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	task := NewTask("https://example.com/a", false, "")

	var wg sync.WaitGroup
	var got *Task
	var popErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, popErr = q.Pop(ctx, 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(ctx, task)
	wg.Wait()

	if popErr != nil || got != task {
		t.Fatalf("waiter got %v, %v", got, popErr)
	}
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	task := NewTask("https://example.com/a", false, "")
	q.Push(ctx, task)
	q.Close()

	if err := q.Push(ctx, task); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push after Close error = %v", err)
	}
	if got, err := q.Pop(ctx, time.Second); err != nil || got != task {
		t.Errorf("queued item lost on Close: %v, %v", got, err)
	}
	if _, err := q.Pop(ctx, time.Second); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop on drained closed queue error = %v", err)
	}
}

func TestMemoryQueue_ContextCanceled(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Pop(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Pop() error = %v, want context.Canceled", err)
	}
}

func getTestRedisURL() string {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6380"
	}
	return url
}

// newTestRedisQueue returns a queue under a key prefix unique to the test.
func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()

	opts, err := redis.ParseURL(getTestRedisURL())
	if err != nil {
		t.Fatal(err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}

	prefix := fmt.Sprintf("viora-test:%s:%d", t.Name(), time.Now().UnixNano())
	q := NewRedisQueueFromClient(client, prefix)
	t.Cleanup(func() {
		client.Del(context.Background(), q.key(keyTaskQueue))
		q.Close()
	})
	return q
}

func TestRedisQueue_PushPop(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	a := NewTask("https://example.com/a", false, "")
	b := NewTask("https://example.com/b", false, "")
	registry := map[int64]*Task{a.ID: a, b.ID: b}
	q.SetResolver(func(id int64) (*Task, bool) {
		task, ok := registry[id]
		return task, ok
	})

	q.Push(ctx, a)
	q.Push(ctx, b)
	q.PushSentinel(ctx)

	if _, err := q.Pop(ctx, time.Second); !errors.Is(err, ErrStopMarker) {
		t.Fatalf("first Pop error = %v, want the stop marker", err)
	}
	for _, want := range []*Task{a, b} {
		got, err := q.Pop(ctx, time.Second)
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if got != want {
			t.Errorf("Pop() = task %d, want %d", got.ID, want.ID)
		}
	}
	if _, err := q.Pop(ctx, time.Second); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Pop on empty queue error = %v", err)
	}

	snap, err := q.Snapshot(ctx, a.ID)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.URL != a.URL {
		t.Errorf("stored snapshot url = %q", snap.URL)
	}
}

func TestRedisQueue_UnknownID(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()
	q.SetResolver(func(int64) (*Task, bool) { return nil, false })

	q.Push(ctx, NewTask("https://example.com/gone", false, ""))
	if _, err := q.Pop(ctx, time.Second); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("unknown id should be dropped, got %v", err)
	}
}

func TestRedisNotifier_Subscribe(t *testing.T) {
	q := newTestRedisQueue(t)
	n := NewRedisNotifier(q)

	sub := n.Subscribe(context.Background())
	defer sub.Close()
	ch := sub.Channel()

	// let the subscription settle before publishing
	time.Sleep(50 * time.Millisecond)

	task := NewTask("https://example.com/a", false, "")
	n.Notify(task.Snapshot())

	select {
	case snap := <-ch:
		if snap.ID != task.ID {
			t.Errorf("received snapshot for task %d, want %d", snap.ID, task.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no progress event received")
	}
}
