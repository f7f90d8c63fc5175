// Package cache provides caching implementations for Kestrel.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNamespaceRequired is returned when a cache call has no namespace.
var ErrNamespaceRequired = errors.New("namespace is required")

// LRUStats is a snapshot of LRU occupancy and effectiveness.
type LRUStats struct {
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// LRUCache is an in-process cache bounded by entry count, with per-entry
// expiry. The front of order is the most recently used entry.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
	now      func() time.Time

	hits, misses, evictions int64
}

type lruEntry struct {
	key   string
	value []byte
	// Zero means no expiry.
	expires time.Time
}

// NewLRUCache creates an LRU holding at most capacity entries.
// A non-positive capacity falls back to 1000.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the value stored under namespace/key, or nil when it is
// absent or expired.
func (c *LRUCache) Get(_ context.Context, namespace string, key string) ([]byte, error) {
	if namespace == "" {
		return nil, ErrNamespaceRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[joinKey(namespace, key)]
	if !ok {
		c.misses++
		return nil, nil
	}
	e := elem.Value.(*lruEntry)
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.drop(elem)
		c.misses++
		return nil, nil
	}

	c.order.MoveToFront(elem)
	c.hits++
	return e.value, nil
}

// Set stores value for ttl, evicting least recently used entries when the
// cache is full. A non-positive ttl stores the entry without expiry, as
// Redis does.
func (c *LRUCache) Set(_ context.Context, namespace string, key string, value []byte, ttl time.Duration) error {
	if namespace == "" {
		return ErrNamespaceRequired
	}

	k := joinKey(namespace, key)
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[k]; ok {
		e := elem.Value.(*lruEntry)
		e.value, e.expires = value, expires
		c.order.MoveToFront(elem)
		return nil
	}

	c.entries[k] = c.order.PushFront(&lruEntry{key: k, value: value, expires: expires})
	for c.order.Len() > c.capacity {
		c.drop(c.order.Back())
		c.evictions++
	}
	return nil
}

// Delete removes namespace/key. Deleting a missing key is not an error.
func (c *LRUCache) Delete(_ context.Context, namespace string, key string) error {
	if namespace == "" {
		return ErrNamespaceRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[joinKey(namespace, key)]; ok {
		c.drop(elem)
	}
	return nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close empties the cache. The cache stays usable afterwards.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *LRUCache) Stats() LRUStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LRUStats{
		Size:      c.order.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// drop must be called with mu held.
func (c *LRUCache) drop(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).key)
}

func joinKey(namespace, key string) string {
	return namespace + ":" + key
}
