// ABOUTME: Thread-safe TTL cache, size-bounded with oldest-first eviction.
// ABOUTME: Filters repeated pushes in the client session and memoizes profile lookups.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the value, write time and list element for a cached key.
type cacheEntry[V any] struct {
	value     V
	timestamp time.Time
	element   *list.Element
}

// Cache provides a thread-safe, TTL-based, size-limited map. Used as a set
// (Mark/Check/CheckAndMark) it tracks seen keys; used with Put/Get it memoizes values.
// Uses a doubly-linked list to maintain write order for O(1) eviction.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	seen    map[K]*cacheEntry[V]
	order   *list.List // keys in write order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a new cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries until Close.
func New[K comparable, V any](ttl time.Duration, maxSize int) *Cache[K, V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache[K, V]{
		seen:    make(map[K]*cacheEntry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// NewSet creates a cache of string keys with no values, for deduplication.
func NewSet(ttl time.Duration, maxSize int) *Cache[string, struct{}] {
	return New[string, struct{}](ttl, maxSize)
}

// Check returns true if the key has been seen and is not expired.
func (c *Cache[K, V]) Check(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// Get returns the value stored for key if it is present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[key]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// CheckAndMark atomically checks if a key has been seen and marks it if not.
// Returns true if the key was already seen (duplicate), false if it's new and now marked.
func (c *Cache[K, V]) CheckAndMark(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	var zero V
	c.putLocked(key, zero)
	return false
}

// Mark records that a key has been seen. If the cache is at capacity,
// the oldest entry is evicted to make room.
func (c *Cache[K, V]) Mark(key K) {
	var zero V
	c.Put(key, zero)
}

// Put stores value under key, refreshing its TTL.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, value)
}

// Delete removes key if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of entries, including expired ones not yet cleaned up.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

// putLocked is the internal write implementation. Must be called with mu held.
func (c *Cache[K, V]) putLocked(key K, value V) {
	now := time.Now()

	// If key already exists, update it and move to back
	if entry, exists := c.seen[key]; exists {
		entry.value = value
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry[V]{
		value:     value,
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held.
func (c *Cache[K, V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(K)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache[K, V]) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache[K, V]) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
