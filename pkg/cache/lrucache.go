package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// lruCacheItem is the internal structure stored in the linked list.
type lruCacheItem[K comparable, V any] struct {
	key   K
	value V
}

// InMemoryLRUCache is a generic, thread-safe, in-memory cache with a fixed size
// and a Least Recently Used (LRU) eviction policy.
// It can be configured with a fallback Fetcher to use on a cache miss.
type InMemoryLRUCache[K comparable, V any] struct {
	maxSize  int
	fallback Fetcher[K, V]

	mu    sync.Mutex
	ll    *list.List          // Used to track the order of items (recency).
	cache map[K]*list.Element // Used for fast key lookups.
}

// NewInMemoryLRUCache creates a new size-limited, in-memory LRU cache.
// - maxSize: The maximum number of items to store in the cache. Must be > 0.
// - fallback: An optional Fetcher to use to populate the cache on a miss.
func NewInMemoryLRUCache[K comparable, V any](maxSize int, fallback Fetcher[K, V]) (*InMemoryLRUCache[K, V], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	return &InMemoryLRUCache[K, V]{
		maxSize:  maxSize,
		fallback: fallback,
		ll:       list.New(),
		cache:    make(map[K]*list.Element),
	}, nil
}

// Fetch retrieves an item. A hit moves the item to the front of the recency
// list. On a miss the fallback, if any, is consulted and its value is stored,
// evicting the least recently used item if the cache is full.
func (c *InMemoryLRUCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	c.mu.Lock()
	if elem, ok := c.cache[key]; ok {
		c.ll.MoveToFront(elem)
		c.mu.Unlock()
		return elem.Value.(*lruCacheItem[K, V]).value, nil
	}
	c.mu.Unlock()

	var zero V
	if c.fallback == nil {
		return zero, fmt.Errorf("key '%v' not found in LRU cache: %w", key, ErrMiss)
	}

	sourceValue, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have populated the key while we were fetching.
	if elem, ok := c.cache[key]; ok {
		c.ll.MoveToFront(elem)
		return elem.Value.(*lruCacheItem[K, V]).value, nil
	}
	c.put(key, sourceValue)
	return sourceValue, nil
}

// Write stores value under key and marks it most recently used.
func (c *InMemoryLRUCache[K, V]) Write(_ context.Context, key K, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		elem.Value.(*lruCacheItem[K, V]).value = value
		c.ll.MoveToFront(elem)
		return nil
	}
	c.put(key, value)
	return nil
}

// Invalidate drops a single key.
func (c *InMemoryLRUCache[K, V]) Invalidate(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.ll.Remove(elem)
		delete(c.cache, key)
	}
	return nil
}

// Purge drops every key.
func (c *InMemoryLRUCache[K, V]) Purge(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.cache = make(map[K]*list.Element)
	return nil
}

// Len returns the number of cached items.
func (c *InMemoryLRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// put must be called with the lock held.
func (c *InMemoryLRUCache[K, V]) put(key K, value V) {
	element := c.ll.PushFront(&lruCacheItem[K, V]{key: key, value: value})
	c.cache[key] = element
	if c.ll.Len() > c.maxSize {
		c.evict()
	}
}

// evict removes the least recently used item from the cache.
// This method is unexported and must be called within a locked mutex.
func (c *InMemoryLRUCache[K, V]) evict() {
	elementToRemove := c.ll.Back()
	if elementToRemove != nil {
		itemToRemove := c.ll.Remove(elementToRemove).(*lruCacheItem[K, V])
		delete(c.cache, itemToRemove.key)
	}
}

// Close is a no-op for the in-memory cache but satisfies the Fetcher interface.
func (c *InMemoryLRUCache[K, V]) Close() error {
	return nil
}
