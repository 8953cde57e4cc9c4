// Package streamcache implements C9: the per-symbol latest-snapshot cache
// fed by provider push and read on WS subscribe/fan-out.
//
// A thin specialization of C3's map+mutex core without LRU capacity
// eviction: the keyspace is bounded by subscription count, not request
// volume, so staleness is governed purely by TTL. Mirrored to Redis via
// internal/warmcache's adapter against a distinct logical DB
// (redis.streamDb), reusing C4's adapter and SCAN-safe primitives over a
// separate go-redis client opened on that DB.
package streamcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketdatagw/internal/fingerprint"
	"marketdatagw/internal/logging"
	"marketdatagw/internal/models"
	"marketdatagw/internal/serializer"
	"marketdatagw/internal/warmcache"
)

type entry struct {
	snapshot  models.StreamSnapshot
	expiresAt time.Time
}

// Cache is C9. WS fan-out is an external collaborator — this package never
// imports anything socket-related.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration

	warm  *warmcache.Cache // may be nil: local-only, no cross-restart persistence
	codec serializer.Serializer
	log   *zap.Logger
}

// New constructs a stream cache with the given local TTL. warm may be nil to
// disable the Redis mirror.
func New(ttl time.Duration, warm *warmcache.Cache, codec serializer.Serializer, log *zap.Logger) *Cache {
	if log == nil {
		log = logging.Nop()
	}
	return &Cache{entries: make(map[string]entry), ttl: ttl, warm: warm, codec: codec, log: log}
}

// Put stores the latest snapshot for symbol, called on provider push.
func (c *Cache) Put(ctx context.Context, symbol string, payload []byte, ts time.Time, provider string) error {
	snap := models.StreamSnapshot{Symbol: symbol, Payload: payload, Ts: ts, Provider: provider}
	key := fingerprint.Stream(symbol)

	c.mu.Lock()
	c.entries[key] = entry{snapshot: snap, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	if c.warm == nil {
		return nil
	}
	encoded, err := c.codec.Encode(snap)
	if err != nil {
		return nil // serialization failure for the mirror must not fail the push
	}
	if err := c.warm.Set(ctx, key, encoded, c.ttl); err != nil {
		c.log.Warn("streamcache: redis mirror write failed, continuing local-only",
			logging.Op("streamcache.Put"), zap.String("symbol", symbol), zap.Error(err))
	}
	return nil
}

// GetLatest returns the most recent snapshot for symbol. On a local miss (or
// expiry) it falls back to the Redis mirror, repopulating the local entry —
// the same hot-miss-then-warm pattern C3/C4 use for request caching, so a
// gateway restart or a late-joining subscriber still sees the last push.
func (c *Cache) GetLatest(ctx context.Context, symbol string) (models.StreamSnapshot, bool) {
	key := fingerprint.Stream(symbol)
	now := time.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		return e.snapshot, true
	}

	if c.warm == nil {
		return models.StreamSnapshot{}, false
	}
	raw, found, err := c.warm.Get(ctx, key)
	if err != nil || !found {
		return models.StreamSnapshot{}, false
	}
	var snap models.StreamSnapshot
	if err := c.codec.Decode(raw, &snap); err != nil {
		return models.StreamSnapshot{}, false
	}

	c.mu.Lock()
	c.entries[key] = entry{snapshot: snap, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return snap, true
}

// Invalidate removes symbol's snapshot from both the local map and the mirror.
func (c *Cache) Invalidate(ctx context.Context, symbol string) {
	key := fingerprint.Stream(symbol)
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.warm != nil {
		if err := c.warm.Del(ctx, key); err != nil {
			c.log.Warn("streamcache: redis mirror invalidate failed",
				logging.Op("streamcache.Invalidate"), zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// HealthProbe reports whether the Redis mirror (if configured) is reachable.
// A nil mirror is reported healthy: the cache degrades to local-only by
// design, not by failure.
func (c *Cache) HealthProbe() bool {
	if c.warm == nil {
		return true
	}
	return c.warm.Available()
}

// Sweep removes every locally-expired entry and returns the count removed.
// Driven by an external timer, independent of request workers.
func (c *Cache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Size returns the number of locally-held entries (including any not yet swept).
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
