package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/viora/downloader/internal/logger"
)

const (
	// Redis keys, relative to the queue prefix
	keyTaskQueue  = ":queue"
	keyTaskStatus = ":task:"
	keyProgress   = ":progress"

	stopMarker = "__stop__"

	// Default timeout for blocking operations
	defaultBlockTimeout = 5 * time.Second
	snapshotTTL         = 24 * time.Hour
)

// DefaultKeyPrefix namespaces every key the downloader writes to Redis.
const DefaultKeyPrefix = "viora"

// TaskResolver maps a queued id back to the shared in-process task.
type TaskResolver func(id int64) (*Task, bool)

// RedisQueue is a Queue backed by a Redis list. Only task ids travel through
// Redis; the task objects stay in the orchestrator registry and are looked up
// with the resolver. A last-known snapshot of each task is kept next to the
// list for external readers.
type RedisQueue struct {
	client  *redis.Client
	prefix  string
	resolve TaskResolver
	log     *logger.Logger
}

// NewRedisQueue connects to redisURL and verifies the connection.
func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisQueueFromClient(client, DefaultKeyPrefix), nil
}

// NewRedisQueueFromClient wraps an existing client. prefix namespaces the keys.
func NewRedisQueueFromClient(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisQueue{
		client: client,
		prefix: prefix,
		log:    logger.Default().WithComponent("redis-queue"),
	}
}

// Client returns the underlying Redis client for pub/sub operations
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

// SetResolver installs the id lookup used by Pop. The orchestrator sets it
// to its registry.
func (q *RedisQueue) SetResolver(r TaskResolver) {
	q.resolve = r
}

func (q *RedisQueue) key(suffix string) string {
	return q.prefix + suffix
}

func (q *RedisQueue) Push(ctx context.Context, task *Task) error {
	if err := q.saveSnapshot(ctx, task.Snapshot()); err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key(keyTaskQueue), task.ID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task %d: %w", task.ID, err)
	}
	return nil
}

// PushSentinel puts a stop marker at the consuming end of the list so it is
// popped before any waiting task.
func (q *RedisQueue) PushSentinel(ctx context.Context) error {
	if err := q.client.RPush(ctx, q.key(keyTaskQueue), stopMarker).Err(); err != nil {
		return fmt.Errorf("failed to push stop marker: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*Task, error) {
	if timeout <= 0 {
		timeout = defaultBlockTimeout
	}

	result, err := q.client.BRPop(ctx, timeout, q.key(keyTaskQueue)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrQueueClosed
		}
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}

	if len(result) < 2 {
		return nil, ErrQueueEmpty
	}
	if result[1] == stopMarker {
		return nil, ErrStopMarker
	}

	id, err := strconv.ParseInt(result[1], 10, 64)
	if err != nil {
		q.log.Warn(ctx, "dropping malformed queue entry", map[string]interface{}{"entry": result[1]})
		return nil, ErrQueueEmpty
	}
	if q.resolve != nil {
		if task, ok := q.resolve(id); ok {
			return task, nil
		}
	}

	// Left over from another process or a task removed from the registry.
	q.log.Warn(ctx, "dropping unknown task id", map[string]interface{}{"task_id": id})
	return nil, ErrQueueEmpty
}

// Len returns the number of waiting entries, stop markers included.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key(keyTaskQueue)).Result()
	return int(n), err
}

// Snapshot returns the last stored snapshot of a task.
func (q *RedisQueue) Snapshot(ctx context.Context, id int64) (*TaskSnapshot, error) {
	data, err := q.client.Get(ctx, q.key(keyTaskStatus)+strconv.FormatInt(id, 10)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var snap TaskSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &snap, nil
}

// saveSnapshot saves a task snapshot to Redis
func (q *RedisQueue) saveSnapshot(ctx context.Context, snap TaskSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return q.client.Set(ctx, q.key(keyTaskStatus)+strconv.FormatInt(snap.ID, 10), data, snapshotTTL).Err()
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
