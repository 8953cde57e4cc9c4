package models

import "time"

// Encoding identifies the wire format a CacheEntry's payload was written with.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgPack Encoding = "msgpack"
)

// CacheEntry is the unit stored by both the hot and warm caches.
//
// Invariant: ExpiresAt > CreatedAt. Compressed payloads carry the
// "COMPRESSED::" framing prefix; Encoding records which codec produced
// Payload before any compression framing was applied.
type CacheEntry struct {
	Fingerprint string
	Payload     []byte
	Encoding    Encoding
	Compressed  bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Size        int
}

// IsExpired reports whether the entry's TTL has elapsed as of now.
func (e CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the remaining time-to-live as of now; zero or negative once expired.
func (e CacheEntry) TTL(now time.Time) time.Duration {
	return e.ExpiresAt.Sub(now)
}

// Clone returns a value copy of the entry with its own payload backing
// array, so concurrent readers can hold immutable snapshots.
func (e CacheEntry) Clone() CacheEntry {
	cp := e
	cp.Payload = append([]byte(nil), e.Payload...)
	return cp
}

// StreamSnapshot is the per-symbol tuple held by the stream cache (C9).
type StreamSnapshot struct {
	Symbol   string
	Payload  []byte
	Ts       time.Time
	Provider string
}

// HotCacheStats is the stats snapshot C3 exposes.
type HotCacheStats struct {
	Size         int
	Hits         int64
	Misses       int64
	Evictions    int64
	HitRate      float64
	AvgAgeMs     float64
	OldestAgeMs  float64
}

// WarmCacheStats is the stats snapshot C4 exposes.
type WarmCacheStats struct {
	Hits      int64
	Misses    int64
	Errors    int64
	Healthy   bool
	LastError string
}
