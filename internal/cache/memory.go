package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is a bounded in-process cache with LRU eviction. It is the
// fast tier in front of the durable store, so entries are small JSON blobs
// and the bound keeps a long-running serve process from growing without limit.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List
	maxItems int
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a memory cache holding at most maxItems entries.
// maxItems <= 0 selects the default of 1024.
func NewMemoryCache(maxItems int) *MemoryCache {
	if maxItems <= 0 {
		maxItems = 1024
	}
	return &MemoryCache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		maxItems: maxItems,
	}
}

// Get retrieves a value. Returns (nil, false) on miss or expiry; expired
// entries are cleaned up lazily.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return entry.value, true
}

// Set stores a value with the given TTL, evicting the least recently used
// entry when the cache is full. TTL <= 0 means don't cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.maxItems {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*memoryEntry).key)
		}
	}
	c.entries[key] = c.order.PushFront(&memoryEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
}

// Exists reports whether a live entry is present without touching its
// recency. Expired entries are cleaned up lazily, as in Get.
func (c *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(elem.Value.(*memoryEntry).expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		return false, nil
	}
	return true, nil
}

// Delete removes a value. Idempotent, no effect on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}

// Len reports the number of live entries, counting expired ones not yet
// swept.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*memoryEntry)
		if now.After(entry.expiresAt) {
			c.order.Remove(elem)
			delete(c.entries, entry.key)
			removed++
		}
		elem = prev
	}
	return removed
}

var _ Cache = (*MemoryCache)(nil)
