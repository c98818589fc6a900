// Package cache provides generic read-through caches that sit in front of a
// slower source of truth. Each cache is a Fetcher itself, so tiers chain:
// in-memory LRU -> Redis -> Elasticsearch.
package cache

import (
	"context"
	"errors"
	"io"
)

// ErrMiss is returned by Fetch when the key is in neither the cache nor its
// fallback.
var ErrMiss = errors.New("cache: key not found")

// Fetcher retrieves a value by key.
type Fetcher[K comparable, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
	io.Closer
}

// Cache is a Fetcher that also accepts writes and can be emptied.
type Cache[K comparable, V any] interface {
	Fetcher[K, V]
	// Write stores value under key, replacing any previous value.
	Write(ctx context.Context, key K, value V) error
	// Purge removes every entry held by this tier. Fallbacks are not touched.
	Purge(ctx context.Context) error
}
