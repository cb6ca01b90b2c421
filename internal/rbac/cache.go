package rbac

import (
	"context"
	"slices"
	"sync"
)

// CacheEntry is a memoized permission set. Role and TenantID record what
// the set was resolved for so a principal whose role changed misses.
type CacheEntry struct {
	Role        string   `json:"role"`
	TenantID    string   `json:"tenant_id"`
	Permissions []string `json:"permissions"`
}

// PermissionCache memoizes resolved permission sets keyed by user id.
// Entries live until invalidated.
type PermissionCache interface {
	Get(ctx context.Context, userID string) (*CacheEntry, bool, error)
	Set(ctx context.Context, userID string, entry CacheEntry) error
	Invalidate(ctx context.Context, userID string) error
	InvalidateAll(ctx context.Context) error
}

// MemoryCache is a per-process PermissionCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]CacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, userID string) (*CacheEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[userID]
	if !ok {
		return nil, false, nil
	}
	entry.Permissions = slices.Clone(entry.Permissions)
	return &entry, true, nil
}

func (c *MemoryCache) Set(_ context.Context, userID string, entry CacheEntry) error {
	entry.Permissions = slices.Clone(entry.Permissions)
	c.mu.Lock()
	c.entries[userID] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]CacheEntry)
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached users.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
