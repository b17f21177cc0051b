// Package cache memoizes normalization results keyed by the exact
// content of the uploaded byte buffer, so repeated renders of the same
// file skip the column-inference pass. The cache is an optional
// collaborator handed to the pipeline, never a package global, and
// cached tables are immutable and shared across readers.
package cache

import (
	"crypto/sha256"
	"sync"

	"telemetry-platform/internal/models"
)

// Key is the content hash of a raw input buffer.
type Key [sha256.Size]byte

// KeyFor hashes a raw byte buffer into a cache key.
func KeyFor(raw []byte) Key {
	return sha256.Sum256(raw)
}

// TableCache holds canonical tables by input-content hash. It is safe
// for concurrent use; entries are never mutated after insertion.
type TableCache struct {
	mu         sync.RWMutex
	entries    map[Key]*models.CanonicalTable
	maxEntries int
}

// NewTableCache creates a cache bounded to maxEntries tables. A bound
// of zero or less means unbounded.
func NewTableCache(maxEntries int) *TableCache {
	return &TableCache{
		entries:    make(map[Key]*models.CanonicalTable),
		maxEntries: maxEntries,
	}
}

// Get returns the cached table for a key, if present.
func (c *TableCache) Get(key Key) (*models.CanonicalTable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	table, ok := c.entries[key]
	return table, ok
}

// Put stores a table under a key. When the cache is full an arbitrary
// entry is evicted first; the cache is a recomputation shortcut, not a
// correctness requirement, so eviction order does not matter.
func (c *TableCache) Put(key Key, table *models.CanonicalTable) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		for victim := range c.entries {
			delete(c.entries, victim)
			break
		}
	}
	c.entries[key] = table
}

// Len reports the number of cached tables.
func (c *TableCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
