package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheEntryIsExpired(t *testing.T) {
	now := time.Now()
	e := CacheEntry{CreatedAt: now, ExpiresAt: now.Add(5 * time.Second)}

	assert.False(t, e.IsExpired(now.Add(4*time.Second)))
	assert.True(t, e.IsExpired(now.Add(5*time.Second)))
	assert.True(t, e.IsExpired(now.Add(6*time.Second)))
}

func TestCacheEntryCloneCopiesPayload(t *testing.T) {
	orig := CacheEntry{Payload: []byte("hello")}
	clone := orig.Clone()
	clone.Payload[0] = 'H'

	assert.Equal(t, byte('h'), orig.Payload[0])
	assert.Equal(t, byte('H'), clone.Payload[0])
}

func TestStringSliceRoundTrip(t *testing.T) {
	in := StringSlice{"price.current", "quote.lastDone"}
	v, err := in.Value()
	require.NoError(t, err)

	var out StringSlice
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in, out)
}

func TestStringSliceScanNil(t *testing.T) {
	var out StringSlice
	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)
}

func TestRuleTuple(t *testing.T) {
	r := Rule{Provider: "longport", ApiType: ApiTypeRest, RuleListType: RuleListQuoteFields, MarketType: "HK"}
	assert.Equal(t, Tuple{"longport", ApiTypeRest, RuleListQuoteFields, "HK"}, r.Tuple())
}
