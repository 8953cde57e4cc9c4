// Package hotcache implements C3: a fixed-capacity, in-process LRU cache
// keyed by fingerprint with lazy TTL expiration and a periodic sweep. A
// container/list + map + RWMutex core with hit/miss/eviction stats tracked
// directly inside the cache so it is usable standalone, without a separate
// metrics layer wrapping it.
package hotcache

import (
	"container/list"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"marketdatagw/internal/models"
)

type entry struct {
	key       string
	value     models.CacheEntry
	expiresAt time.Time
	element   *list.Element
}

// Cache is a thread-safe, capacity-bounded LRU with lazy TTL expiration.
//
// Concurrency: single-writer discipline via mu; readers observe a
// consistent snapshot of the current or immediately preceding state.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	lru        *list.List
	maxEntries int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a hot cache with the given capacity.
func New(maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]*entry, maxEntries),
		lru:        list.New(),
		maxEntries: maxEntries,
	}
}

// Get returns the entry for key if present and not expired, updating LRU
// order on hit. A decode failure by the caller should be treated as a miss —
// that is the caller's concern, not this cache's; Get only ever returns
// what was Set.
func (c *Cache) Get(key string) (models.CacheEntry, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return models.CacheEntry{}, false
	}

	if now.After(e.expiresAt) {
		c.deleteLocked(key)
		c.misses.Add(1)
		return models.CacheEntry{}, false
	}

	c.lru.MoveToFront(e.element)
	c.hits.Add(1)
	return e.value.Clone(), true
}

// Set stores value under key with the given ttl, evicting the LRU entry if
// at capacity. On eviction the dropped entry is discarded without
// write-back.
func (c *Cache) Set(key string, value models.CacheEntry, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(ttl)
	value = value.Clone()
	value.ExpiresAt = expiresAt

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.lru.MoveToFront(e.element)
		return
	}

	if c.maxEntries > 0 && c.lru.Len() >= c.maxEntries {
		c.evictLRULocked()
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	e.element = c.lru.PushFront(e)
	c.entries[key] = e
}

// Delete removes key, returning true if it existed.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(key)
}

// DeletePattern removes every key matching a shell glob pattern (e.g.
// "data-mapper:*:longport:*", which embeds a wildcard on both sides of a
// literal segment), returning the count removed. Keys never contain '/', so
// path.Match's "*" matching any run of non-separator characters behaves the
// same as a plain glob here — the same semantics C4's Redis SCAN MATCH
// already applies against the warm tier.
func (c *Cache) DeletePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toDelete []string
	for key := range c.entries {
		if matched, err := path.Match(pattern, key); err == nil && matched {
			toDelete = append(toDelete, key)
		}
	}

	count := 0
	for _, key := range toDelete {
		if c.deleteLocked(key) {
			count++
		}
	}
	return count
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry, c.maxEntries)
	c.lru = list.New()
}

// Sweep removes all currently-expired entries and returns the count removed.
// Intended to be called from a periodic ticker independent of request
// workers.
func (c *Cache) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			expired = append(expired, key)
		}
	}
	count := 0
	for _, key := range expired {
		if c.deleteLocked(key) {
			count++
		}
	}
	return count
}

func (c *Cache) deleteLocked(key string) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.lru.Remove(e.element)
	delete(c.entries, key)
	return true
}

func (c *Cache) evictLRULocked() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	c.lru.Remove(oldest)
	delete(c.entries, e.key)
	c.evictions.Add(1)
}

// Stats returns a point-in-time hit/miss/eviction snapshot.
func (c *Cache) Stats() models.HotCacheStats {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	hits, misses, evictions := c.hits.Load(), c.misses.Load(), c.evictions.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	var sumAge, oldestAge float64
	for _, e := range c.entries {
		ageMs := float64(now.Sub(e.expiresAt.Add(-defaultAssumedTTLWindow(e))).Milliseconds())
		if ageMs < 0 {
			ageMs = 0
		}
		sumAge += ageMs
		if ageMs > oldestAge {
			oldestAge = ageMs
		}
	}
	var avgAge float64
	if n := len(c.entries); n > 0 {
		avgAge = sumAge / float64(n)
	}

	return models.HotCacheStats{
		Size:        c.lru.Len(),
		Hits:        hits,
		Misses:      misses,
		Evictions:   evictions,
		HitRate:     hitRate,
		AvgAgeMs:    avgAge,
		OldestAgeMs: oldestAge,
	}
}

// defaultAssumedTTLWindow estimates an entry's age from its stored
// CreatedAt when available; the hot cache does not otherwise track
// insertion time separately from the cache-entry payload itself.
func defaultAssumedTTLWindow(e *entry) time.Duration {
	if !e.value.CreatedAt.IsZero() {
		return e.expiresAt.Sub(e.value.CreatedAt)
	}
	return 0
}

// Size returns the current entry count.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}
