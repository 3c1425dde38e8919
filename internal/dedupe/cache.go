// ABOUTME: Thread-safe TTL cache for suppressing redelivered message ids.
// ABOUTME: The bus is at-least-once, so receivers dedupe on the message id.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the timestamp and list element for a cached id.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache tracks message ids a receiver has already handled. It is TTL-based
// and size-limited: the bus only redelivers within a short window, so old
// ids can be forgotten. Insertion order is kept in a doubly-linked list for
// O(1) eviction of the oldest entry.
type Cache struct {
	mu      sync.Mutex
	seen    map[int64]*cacheEntry
	order   *list.List // ids in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
}

// New creates a dedupe cache with the given TTL and maximum size.
// Expired entries are reaped lazily on insertion; there is no background
// goroutine, so per-session caches are cheap to create and abandon.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[int64]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// CheckAndMark atomically checks whether the id has been seen and marks it
// if not. Returns true when the id was already seen (a redelivery), false
// when it is new and now recorded.
func (c *Cache) CheckAndMark(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry, ok := c.seen[id]
	if ok && now.Sub(entry.timestamp) < c.ttl {
		return true
	}

	if ok {
		// Expired entry for this id: refresh in place
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return false
	}

	c.reapExpiredLocked(now)
	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}

	elem := c.order.PushBack(id)
	c.seen[id] = &cacheEntry{timestamp: now, element: elem}
	return false
}

// reapExpiredLocked drops entries older than the TTL from the front of the
// insertion order. Must be called with mu held.
func (c *Cache) reapExpiredLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		id, _ := front.Value.(int64)
		entry := c.seen[id]
		if entry == nil || now.Sub(entry.timestamp) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, id)
	}
}

// evictOldestLocked removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(int64)
	c.order.Remove(front)
	delete(c.seen, id)
}

// Len returns the number of tracked ids.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
