package hotcache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdatagw/internal/models"
)

func entryWithValue(v string) models.CacheEntry {
	return models.CacheEntry{Payload: []byte(v), CreatedAt: time.Now()}
}

func TestSetGetHit(t *testing.T) {
	c := New(10)
	c.Set("k1", entryWithValue("v1"), time.Minute)

	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", string(got.Payload))
}

func TestGetMissOnAbsentKey(t *testing.T) {
	c := New(10)
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestLazyExpiration(t *testing.T) {
	c := New(10)
	c.Set("k1", entryWithValue("v1"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("k1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestEvictsLRUAtCapacity(t *testing.T) {
	c := New(2)
	c.Set("a", entryWithValue("1"), time.Minute)
	c.Set("b", entryWithValue("2"), time.Minute)
	c.Get("a") // touch a, making b the LRU victim
	c.Set("c", entryWithValue("3"), time.Minute)

	_, aOK := c.Get("a")
	_, bOK := c.Get("b")
	_, cOK := c.Get("c")
	assert.True(t, aOK)
	assert.False(t, bOK, "b should have been evicted as least recently used")
	assert.True(t, cOK)
}

func TestDeletePatternWildcard(t *testing.T) {
	c := New(10)
	c.Set("data-mapper:rule:1", entryWithValue("x"), time.Minute)
	c.Set("data-mapper:rule:2", entryWithValue("x"), time.Minute)
	c.Set("data-mapper:best-rule:1", entryWithValue("x"), time.Minute)

	n := c.DeletePattern("data-mapper:rule:*")
	assert.Equal(t, 2, n)

	_, ok := c.Get("data-mapper:best-rule:1")
	assert.True(t, ok)
}

func TestDeletePatternEmbeddedWildcard(t *testing.T) {
	c := New(10)
	c.Set("data-mapper:best-rule:longport:stock", entryWithValue("x"), time.Minute)
	c.Set("data-mapper:provider-rules:longport:stock", entryWithValue("x"), time.Minute)
	c.Set("data-mapper:best-rule:futu:stock", entryWithValue("x"), time.Minute)

	n := c.DeletePattern("data-mapper:*:longport:*")
	assert.Equal(t, 2, n)

	_, ok := c.Get("data-mapper:best-rule:futu:stock")
	assert.True(t, ok)
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	c := New(10)
	c.Set("short", entryWithValue("x"), 5*time.Millisecond)
	c.Set("long", entryWithValue("x"), time.Minute)
	time.Sleep(15 * time.Millisecond)

	n := c.Sweep()
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, c.Size())
}

func TestStatsHitRate(t *testing.T) {
	c := New(10)
	c.Set("k", entryWithValue("v"), time.Minute)
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
}

func TestConcurrentAccessIsRaceFree(t *testing.T) {
	c := New(100)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "k"
			c.Set(key, entryWithValue("v"), time.Minute)
			c.Get(key)
		}(i)
	}
	wg.Wait()
}

func TestClonedEntryIsIndependentOfCacheStorage(t *testing.T) {
	c := New(10)
	c.Set("k", entryWithValue("v"), time.Minute)

	got, _ := c.Get("k")
	got.Payload[0] = 'X'

	got2, _ := c.Get("k")
	assert.Equal(t, byte('v'), got2.Payload[0], "mutating a returned entry must not corrupt cache storage")
}
