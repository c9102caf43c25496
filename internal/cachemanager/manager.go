// Package cachemanager provides typed TTL caches used for ledger read snapshots.
package cachemanager

import (
	"context"
	"time"
)

// Cache is a typed key/value cache with per-entry TTLs.
type Cache[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K)
	Flush(ctx context.Context)
	Stats() Stats
}

// Stats counts lookups since the cache was created.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}
