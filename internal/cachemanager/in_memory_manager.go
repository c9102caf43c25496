package cachemanager

import (
	"context"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/provenance/internal/log"
)

// DefaultCleanupInterval is how often expired entries are collected.
const DefaultCleanupInterval = 5 * time.Minute

// InMemory implements Cache on go-cache. name labels the cache in log lines.
type InMemory[K ~string, V any] struct {
	name   string
	cache  *gocache.Cache
	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ Cache[string, int] = (*InMemory[string, int])(nil)

// NewInMemory creates a cache whose entries live for ttl unless Set says otherwise.
func NewInMemory[K ~string, V any](name string, ttl, cleanupInterval time.Duration) *InMemory[K, V] {
	return &InMemory[K, V]{
		name:  name,
		cache: gocache.New(ttl, cleanupInterval),
	}
}

func (c *InMemory[K, V]) Get(_ context.Context, key K) (V, bool) {
	var zero V
	raw, found := c.cache.Get(string(key))
	if !found {
		c.misses.Add(1)
		log.Debug(log.CatCache, "cache miss", "cache", c.name, "key", string(key))
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		// Only Set writes to the cache, so this is a programming error.
		c.misses.Add(1)
		log.Error(log.CatCache, "cached value has the wrong type", "cache", c.name, "key", string(key))
		c.cache.Delete(string(key))
		return zero, false
	}
	c.hits.Add(1)
	return v, true
}

// Set stores value for ttl. A zero ttl uses the cache default.
func (c *InMemory[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(string(key), value, ttl)
}

func (c *InMemory[K, V]) Delete(_ context.Context, keys ...K) {
	for _, key := range keys {
		c.cache.Delete(string(key))
	}
}

func (c *InMemory[K, V]) Flush(_ context.Context) {
	n := c.cache.ItemCount()
	c.cache.Flush()
	log.Debug(log.CatCache, "cache flushed", "cache", c.name, "entries", n)
}

// Stats reports hits, misses and the entry count. Expired entries not yet
// collected are counted.
func (c *InMemory[K, V]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.cache.ItemCount(),
	}
}
