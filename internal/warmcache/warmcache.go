// Package warmcache implements C4: a typed Redis adapter with bounded
// command/connection timeouts, SCAN-based (never KEYS-based) pattern
// deletion, and an atomic.Bool health flag updated from the outcome of each
// command and of HealthCheck (there is no background ping).
package warmcache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"marketdatagw/internal/errs"
	"marketdatagw/internal/models"
)

// Config configures connection and command behavior.
type Config struct {
	Addr             string
	DB               int
	ConnectTimeout   time.Duration
	CommandTimeout   time.Duration
	KeyPrefix        string
	TLSEnabled       bool
	ScanCount        int64
	ScanIterationCap int
}

// Cache wraps a go-redis client behind the typed interface C4 requires.
// Every operation returns a typed *errs.Error on failure rather than
// letting the Redis error surface as-is through the hot path.
type Cache struct {
	client    *redis.Client
	cfg       Config
	available atomic.Bool
}

// New constructs a warm cache adapter. The connection is not verified until
// the first HealthCheck or command.
func New(cfg Config) *Cache {
	opts := &redis.Options{
		Addr:        cfg.Addr,
		DB:          cfg.DB,
		DialTimeout: cfg.ConnectTimeout,
	}
	c := &Cache{client: redis.NewClient(opts), cfg: cfg}
	c.available.Store(true)
	return c
}

// NewFromClient builds a Cache over an already-constructed client — used by
// tests wiring a miniredis-backed client, and by the stream cache (C9) which
// shares this adapter against a distinct logical DB.
func NewFromClient(client *redis.Client, cfg Config) *Cache {
	c := &Cache{client: client, cfg: cfg}
	c.available.Store(true)
	return c
}

func (c *Cache) key(k string) string {
	if c.cfg.KeyPrefix == "" {
		return k
	}
	return c.cfg.KeyPrefix + k
}

func (c *Cache) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := c.cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return context.WithTimeout(parent, timeout)
}

func (c *Cache) fail(op string, err error) error {
	c.available.Store(false)
	return errs.E(errs.WarmCacheUnavailable, op, err)
}

// Get returns the raw payload for key, or (nil, false, nil) on a clean miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cctx, cancel := c.ctx(ctx)
	defer cancel()

	b, err := c.client.Get(cctx, c.key(key)).Bytes()
	if err == redis.Nil {
		c.available.Store(true)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, c.fail("warmcache.Get", err)
	}
	c.available.Store(true)
	return b, true, nil
}

// Set stores value under key with ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cctx, cancel := c.ctx(ctx)
	defer cancel()

	if err := c.client.Set(cctx, c.key(key), value, ttl).Err(); err != nil {
		return c.fail("warmcache.Set", err)
	}
	c.available.Store(true)
	return nil
}

// MGet returns a map of found keys to their payloads; missing keys are
// simply absent from the result, not an error.
func (c *Cache) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	cctx, cancel := c.ctx(ctx)
	defer cancel()

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}

	vals, err := c.client.MGet(cctx, prefixed...).Result()
	if err != nil {
		return nil, c.fail("warmcache.MGet", err)
	}
	c.available.Store(true)

	out := make(map[string][]byte, len(keys))
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = []byte(s)
	}
	return out, nil
}

// MSet stores every key/value pair in values with a single shared ttl.
func (c *Cache) MSet(ctx context.Context, values map[string][]byte, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}
	cctx, cancel := c.ctx(ctx)
	defer cancel()

	pipe := c.client.Pipeline()
	for k, v := range values {
		pipe.Set(cctx, c.key(k), v, ttl)
	}
	if _, err := pipe.Exec(cctx); err != nil {
		return c.fail("warmcache.MSet", err)
	}
	c.available.Store(true)
	return nil
}

// Del removes the given keys.
func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cctx, cancel := c.ctx(ctx)
	defer cancel()

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}
	if err := c.client.Del(cctx, prefixed...).Err(); err != nil {
		return c.fail("warmcache.Del", err)
	}
	c.available.Store(true)
	return nil
}

// DelByPattern deletes every key matching pattern using incremental SCAN
// with a bounded COUNT and a hard iteration cap. It never issues KEYS —
// that command is rejected by this implementation's design.
func (c *Cache) DelByPattern(ctx context.Context, pattern string) (int, error) {
	cctx, cancel := c.ctx(ctx)
	defer cancel()

	scanCount := c.cfg.ScanCount
	if scanCount <= 0 {
		scanCount = 200
	}
	iterCap := c.cfg.ScanIterationCap
	if iterCap <= 0 {
		iterCap = 10000
	}

	var cursor uint64
	deleted := 0
	for i := 0; i < iterCap; i++ {
		keys, nextCursor, err := c.client.Scan(cctx, cursor, c.key(pattern), scanCount).Result()
		if err != nil {
			return deleted, c.fail("warmcache.DelByPattern", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(cctx, keys...).Err(); err != nil {
				return deleted, c.fail("warmcache.DelByPattern", err)
			}
			deleted += len(keys)
		}
		cursor = nextCursor
		if cursor == 0 {
			c.available.Store(true)
			return deleted, nil
		}
	}
	return deleted, c.fail("warmcache.DelByPattern", fmt.Errorf("scan iteration cap %d exceeded for pattern %q", iterCap, pattern))
}

// HealthCheck pings Redis and updates the adapter's availability flag.
func (c *Cache) HealthCheck(ctx context.Context) error {
	cctx, cancel := c.ctx(ctx)
	defer cancel()

	if err := c.client.Ping(cctx).Err(); err != nil {
		return c.fail("warmcache.HealthCheck", err)
	}
	c.available.Store(true)
	return nil
}

// Available reports the last-observed health without making a network call.
func (c *Cache) Available() bool { return c.available.Load() }

// Stats returns the current observability snapshot. Hit/miss/error counters
// are tracked by the orchestrator (C8), which is the only caller that knows
// the semantic difference between a cache miss and a degraded-mode skip;
// this method reports connection-level health only.
func (c *Cache) Stats() models.WarmCacheStats {
	return models.WarmCacheStats{Healthy: c.available.Load()}
}

// PublishInvalidation publishes an invalidation event on channel — used by
// the rule cache namespaces (C5) for cross-instance coordination.
func (c *Cache) PublishInvalidation(ctx context.Context, channel string, payload []byte) error {
	cctx, cancel := c.ctx(ctx)
	defer cancel()
	if err := c.client.Publish(cctx, channel, payload).Err(); err != nil {
		return c.fail("warmcache.PublishInvalidation", err)
	}
	c.available.Store(true)
	return nil
}

// Subscribe returns a go-redis PubSub handle for channel.
func (c *Cache) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return c.client.Subscribe(ctx, channel)
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error { return c.client.Close() }
