package cachemanager

import (
	"context"
	"time"
)

// Loader reads the value for key from the source of truth.
type Loader[K ~string, V any] func(ctx context.Context, key K) (V, error)

// ReadThrough fills cache misses from a Loader. Loader errors are returned
// as-is and never cached, so a not-found read is retried on the next call.
// A nil cache disables caching and every Get goes to the loader.
type ReadThrough[K ~string, V any] struct {
	cache Cache[K, V]
	load  Loader[K, V]
	ttl   time.Duration
}

func NewReadThrough[K ~string, V any](cache Cache[K, V], load Loader[K, V], ttl time.Duration) *ReadThrough[K, V] {
	return &ReadThrough[K, V]{cache: cache, load: load, ttl: ttl}
}

func (r *ReadThrough[K, V]) Get(ctx context.Context, key K) (V, error) {
	if r.cache == nil {
		return r.load(ctx, key)
	}
	if v, ok := r.cache.Get(ctx, key); ok {
		return v, nil
	}
	v, err := r.load(ctx, key)
	if err != nil {
		return v, err
	}
	r.cache.Set(ctx, key, v, r.ttl)
	return v, nil
}

// Invalidate drops keys so the next Get goes to the loader.
func (r *ReadThrough[K, V]) Invalidate(ctx context.Context, keys ...K) {
	if r.cache != nil {
		r.cache.Delete(ctx, keys...)
	}
}

// Flush drops every cached value.
func (r *ReadThrough[K, V]) Flush(ctx context.Context) {
	if r.cache != nil {
		r.cache.Flush(ctx)
	}
}

// Stats reports the cache counters; a disabled cache reports zeros.
func (r *ReadThrough[K, V]) Stats() Stats {
	if r.cache == nil {
		return Stats{}
	}
	return r.cache.Stats()
}
