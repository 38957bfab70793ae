package download

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/viora/downloader/internal/logger"
)

// RedisNotifier stores every snapshot next to the Redis queue and publishes
// it on the progress channel so other processes can follow tasks.
type RedisNotifier struct {
	queue   *RedisQueue
	timeout time.Duration
	log     *logger.Logger
}

func NewRedisNotifier(q *RedisQueue) *RedisNotifier {
	return &RedisNotifier{
		queue:   q,
		timeout: 2 * time.Second,
		log:     logger.Default().WithComponent("redis-notifier"),
	}
}

// Notify implements Notifier. Failures are logged and never reach the caller.
func (n *RedisNotifier) Notify(snap TaskSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.publish(ctx, snap); err != nil {
		n.log.Warn(ctx, "failed to publish progress", map[string]interface{}{
			"task_id": snap.ID,
			"error":   err.Error(),
		})
	}
}

// publish publishes a progress event via Redis Pub/Sub
func (n *RedisNotifier) publish(ctx context.Context, snap TaskSnapshot) error {
	if err := n.queue.saveSnapshot(ctx, snap); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}
	return n.queue.client.Publish(ctx, n.queue.key(keyProgress), data).Err()
}

// Subscribe subscribes to progress events from every process sharing the queue.
func (n *RedisNotifier) Subscribe(ctx context.Context) *ProgressSubscription {
	pubsub := n.queue.client.Subscribe(ctx, n.queue.key(keyProgress))
	return &ProgressSubscription{
		pubsub: pubsub,
		ch:     pubsub.Channel(),
	}
}

// ProgressSubscription wraps a Redis pub/sub subscription for progress events
type ProgressSubscription struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
}

// Channel returns a channel that receives task snapshots. It is closed when
// the subscription is closed.
func (s *ProgressSubscription) Channel() <-chan TaskSnapshot {
	snapCh := make(chan TaskSnapshot)

	go func() {
		defer close(snapCh)
		for msg := range s.ch {
			var snap TaskSnapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				continue
			}
			snapCh <- snap
		}
	}()

	return snapCh
}

// Close closes the subscription
func (s *ProgressSubscription) Close() error {
	return s.pubsub.Close()
}
