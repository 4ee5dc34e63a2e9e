// Package cache provides a small thread-safe LRU cache used to keep hot
// repository lookups off the network.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Stats holds cumulative cache counters. All fields are safe to read
// concurrently with cache operations.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

type entry[V any] struct {
	key   string
	value V
}

// LRU is a fixed-capacity cache that evicts the least recently used entry
// when full. The zero value is not usable; create instances with New.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front is most recently used

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates an LRU cache holding at most capacity entries. A capacity
// below 1 is treated as 1.
func New[V any](capacity int) *LRU[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[V]{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached value for key and marks it most recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.order.MoveToFront(element)
	c.hits.Add(1)
	return element.Value.(*entry[V]).value, true
}

// Put stores a value for key, evicting the least recently used entry if the
// cache is full. Storing an existing key replaces its value.
func (c *LRU[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		element.Value.(*entry[V]).value = value
		c.order.MoveToFront(element)
		return
	}

	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value})
	if len(c.items) > c.capacity {
		oldest := c.order.Back()
		delete(c.items, oldest.Value.(*entry[V]).key)
		c.order.Remove(oldest)
		c.evictions.Add(1)
	}
}

// Delete removes the entry for key if present
func (c *LRU[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		delete(c.items, key)
		c.order.Remove(element)
	}
}

// Len returns the current number of cached entries
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes every entry. Counters are not reset.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Stats returns a snapshot of the cache counters
func (c *LRU[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
