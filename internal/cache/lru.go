// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package cache

import (
	"sync"
	"time"
)

// lruEntry is a node in the LRU's doubly-linked list.
type lruEntry[V any] struct {
	key       string
	value     V
	prev      *lruEntry[V]
	next      *lruEntry[V]
	expiresAt time.Time
}

// LRU implements a thread-safe least-recently-used cache with TTL support.
//
// Key features:
//   - O(1) Get, Add, Remove operations
//   - O(1) eviction when capacity is reached
//   - TTL support with lazy expiration
//
// A doubly-linked list keeps access order and a map gives O(1) lookups.
// head.next is the most recently used, tail.prev the least. The device
// gateway uses this to bound per-device limiter state: a device that has
// not contacted in a long time falls off the end instead of pinning
// memory forever.
type LRU[V any] struct {
	mu sync.RWMutex

	capacity int
	ttl      time.Duration

	items map[string]*lruEntry[V]

	// head and tail are sentinel nodes
	head *lruEntry[V]
	tail *lruEntry[V]

	hits   int64
	misses int64
}

// NewLRU creates an LRU cache with the specified capacity and TTL.
func NewLRU[V any](capacity int, ttl time.Duration) *LRU[V] {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	c := &LRU[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruEntry[V], capacity),
		head:     &lruEntry[V]{},
		tail:     &lruEntry[V]{},
	}

	c.head.next = c.tail
	c.tail.prev = c.head

	return c
}

// Get retrieves an entry and moves it to the front (most recently used).
// Returns the zero value and false when absent or expired.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	if e, exists := c.items[key]; exists {
		if time.Now().After(e.expiresAt) {
			c.removeEntry(e)
			c.misses++
			return zero, false
		}

		c.moveToFront(e)
		c.hits++
		return e.value, true
	}

	c.misses++
	return zero, false
}

// GetOrAdd returns the existing value for key, or stores and returns the
// value produced by create. The create function runs under the cache lock,
// so keep it cheap.
func (c *LRU[V]) GetOrAdd(key string, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, exists := c.items[key]; exists && !now.After(e.expiresAt) {
		e.expiresAt = now.Add(c.ttl)
		c.moveToFront(e)
		c.hits++
		return e.value
	} else if exists {
		c.removeEntry(e)
	}

	value := create()
	c.addLocked(key, value, now)
	c.misses++
	return value
}

// Contains checks whether a live entry exists without updating access order.
func (c *LRU[V]) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, exists := c.items[key]; exists {
		return !time.Now().After(e.expiresAt)
	}
	return false
}

// Add adds or refreshes an entry. When the cache is at capacity the least
// recently used entry is evicted.
func (c *LRU[V]) Add(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, exists := c.items[key]; exists {
		e.value = value
		e.expiresAt = now.Add(c.ttl)
		c.moveToFront(e)
		return
	}

	c.addLocked(key, value, now)
}

// Remove deletes an entry. Returns true if the entry existed.
func (c *LRU[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.items[key]; exists {
		c.removeEntry(e)
		return true
	}
	return false
}

// Len returns the current number of entries.
func (c *LRU[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all entries.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruEntry[V], c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// CleanupExpired removes all expired entries and returns how many were removed.
func (c *LRU[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0

	// Walk from tail (oldest) to head (newest)
	for e := c.tail.prev; e != c.head; {
		prev := e.prev
		if now.After(e.expiresAt) {
			c.removeEntry(e)
			removed++
		}
		e = prev
	}

	return removed
}

// Stats returns hit/miss counters and the current size.
func (c *LRU[V]) Stats() (hits, misses int64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.items)
}

// Internal methods (must be called with lock held)

func (c *LRU[V]) addLocked(key string, value V, now time.Time) {
	e := &lruEntry[V]{
		key:       key,
		value:     value,
		expiresAt: now.Add(c.ttl),
	}

	c.addToFront(e)
	c.items[key] = e

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

func (c *LRU[V]) addToFront(e *lruEntry[V]) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *LRU[V]) moveToFront(e *lruEntry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.addToFront(e)
}

func (c *LRU[V]) removeEntry(e *lruEntry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}

func (c *LRU[V]) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
}
