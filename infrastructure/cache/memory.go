package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/registry"
)

type memoryEntry struct {
	hops      map[string][]registry.PrejoinItem
	expiresAt time.Time
}

// MemoryCache implements ports.PrejoinCache in process. It is safe for concurrent use.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates an empty cache. A zero ttl never expires entries.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Compile-time interface check
var _ ports.PrejoinCache = (*MemoryCache)(nil)

// Get returns the cached hop result, if any
func (c *MemoryCache) Get(_ context.Context, entityType, entityID, targetType string) ([]registry.PrejoinItem, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := nodeKey(entityType, entityID)
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	items, ok := entry.hops[targetType]
	return slices.Clone(items), ok, nil
}

// Set stores a hop result and refreshes the node's expiry
func (c *MemoryCache) Set(_ context.Context, entityType, entityID, targetType string, items []registry.PrejoinItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := nodeKey(entityType, entityID)
	entry, ok := c.entries[key]
	if !ok {
		entry = &memoryEntry{hops: make(map[string][]registry.PrejoinItem)}
		c.entries[key] = entry
	}
	entry.hops[targetType] = slices.Clone(items)
	entry.expiresAt = c.now().Add(c.ttl)
	return nil
}

// InvalidateNode deletes every hop result of the node
func (c *MemoryCache) InvalidateNode(_ context.Context, entityType, entityID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, nodeKey(entityType, entityID))
	return nil
}
