// Package cache remembers validation verdicts by workflow fingerprint and
// enforces that no mutation reaches the platform without a passing verdict.
package cache

import (
	"context"
	"sync"
	"time"

	"flowsentinel/backend/internal/validation"
)

// Cache stores verdicts by key. Invalidate drops every entry at once.
type Cache interface {
	Get(ctx context.Context, key string) (validation.Verdict, bool, error)
	Put(ctx context.Context, key string, verdict validation.Verdict) error
	Invalidate(ctx context.Context) error
}

type memoryEntry struct {
	verdict  validation.Verdict
	storedAt time.Time
}

// MemoryCache is a process-local Cache. Entries older than ttl are treated
// as absent; a zero ttl keeps entries until the next invalidation.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (validation.Verdict, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return validation.Verdict{}, false, nil
	}
	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.storedAt.Equal(e.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return validation.Verdict{}, false, nil
	}
	return e.verdict, true, nil
}

// Put stores verdict under key. Concurrent writers of the same key race
// harmlessly: verdicts for one key are identical for one catalog.
func (c *MemoryCache) Put(_ context.Context, key string, verdict validation.Verdict) error {
	c.mu.Lock()
	c.entries[key] = memoryEntry{verdict: verdict, storedAt: c.now()}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
