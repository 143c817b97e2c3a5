package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memoryEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// Memory is a thread-safe in-memory Cache. Stale entries are evicted lazily
// on read and in bulk via Evict.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// NewMemory creates an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memoryEntry)}
}

// Get implements Cache.
func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired() {
		return nil, false
	}
	return e.value, true
}

// Set implements Cache.
func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete implements Cache.
func (c *Memory) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Evict removes all expired entries and returns how many were dropped.
func (c *Memory) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.expired() {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries (including expired).
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
