// Package cache keeps probe results in redis so repeated format lookups of
// the same URL skip the engine.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/viora/downloader/internal/fetch"
	"github.com/viora/downloader/internal/logger"
)

const (
	DefaultProbeTTL = time.Hour
	defaultPrefix   = "viora:probe:"
)

type Cache struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects to the redis server at url (redis://host:port/db).
func New(url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	c := NewFromClient(client)
	c.log.Info(ctx, "connected to redis", map[string]interface{}{"addr": opts.Addr})
	return c, nil
}

// NewFromClient wraps an existing client. Close does not close a shared client.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client, log: logger.Default().WithComponent("cache")}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Get returns the cached value for key. Errors count as misses.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.log.Debug(ctx, "cache miss", map[string]interface{}{"key": key})
		return "", false
	}
	if err != nil {
		c.log.Warn(ctx, "cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
		return "", false
	}
	c.log.Debug(ctx, "cache hit", map[string]interface{}{"key": key})
	return val, true
}

func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
		return err
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// ProbeEngine is a fetch.Engine that caches Probe results. Fetch and
// ResolveOutputPath go straight to the wrapped engine.
type ProbeEngine struct {
	fetch.Engine
	cache  *Cache
	ttl    time.Duration
	prefix string
}

// WrapEngine caches e's probe results for ttl. A zero ttl uses one hour.
func WrapEngine(e fetch.Engine, c *Cache, ttl time.Duration) *ProbeEngine {
	if ttl <= 0 {
		ttl = DefaultProbeTTL
	}
	return &ProbeEngine{Engine: e, cache: c, ttl: ttl, prefix: defaultPrefix}
}

// ProbeKey is the redis key holding the probe result for url.
func (p *ProbeEngine) ProbeKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return p.prefix + hex.EncodeToString(sum[:])
}

func (p *ProbeEngine) Probe(ctx context.Context, url string) (*fetch.Metadata, error) {
	key := p.ProbeKey(url)
	if raw, ok := p.cache.Get(ctx, key); ok {
		var meta fetch.Metadata
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			return &meta, nil
		}
		p.cache.Delete(ctx, key)
	}

	meta, err := p.Engine.Probe(ctx, url)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(meta); err == nil {
		// a failed write only costs the next lookup
		p.cache.Set(ctx, key, string(raw), p.ttl)
	}
	return meta, nil
}
