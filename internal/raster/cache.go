package raster

import (
	"sync"
	"sync/atomic"
	"time"
)

// HeaderCache is a concurrent-safe LRU of parsed raster headers with TTL
// expiration. Entries are keyed by path and invalidated when the file's size
// or modification time changes. File handles are never cached.
type HeaderCache struct {
	mu         sync.RWMutex
	entries    map[string]*headerCacheEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
}

type headerCacheEntry struct {
	stamp     fileStamp
	layout    layout
	createdAt time.Time
}

// fileStamp identifies one version of a file on disk.
type fileStamp struct {
	size     int64
	modNanos int64
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries" yaml:"entries"`
	MaxEntries int     `json:"max_entries" yaml:"max_entries"`
	Hits       int64   `json:"hits" yaml:"hits"`
	Misses     int64   `json:"misses" yaml:"misses"`
	HitRate    float64 `json:"hit_rate" yaml:"hit_rate"`
}

// NewHeaderCache creates a cache holding up to maxEntries headers for ttl.
func NewHeaderCache(maxEntries int, ttl time.Duration) *HeaderCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &HeaderCache{
		entries:    make(map[string]*headerCacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// get returns the cached layout for path if it matches stamp and is fresh.
func (c *HeaderCache) get(path string, stamp fileStamp) layout {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		c.misses.Add(1)
		return nil
	}

	if entry.stamp != stamp || (c.ttl > 0 && time.Since(entry.createdAt) > c.ttl) {
		delete(c.entries, path)
		c.removeFromOrder(path)
		c.misses.Add(1)
		return nil
	}

	c.removeFromOrder(path)
	c.order = append(c.order, path)
	c.hits.Add(1)
	return entry.layout
}

// put stores a parsed header, evicting the oldest entry if at capacity.
func (c *HeaderCache) put(path string, stamp fileStamp, l layout) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[path]; ok {
		c.entries[path] = &headerCacheEntry{stamp: stamp, layout: l, createdAt: time.Now()}
		c.removeFromOrder(path)
		c.order = append(c.order, path)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[path] = &headerCacheEntry{stamp: stamp, layout: l, createdAt: time.Now()}
	c.order = append(c.order, path)
}

// Invalidate drops the cached header for path.
func (c *HeaderCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, path)
	c.removeFromOrder(path)
}

// Stats returns cache performance statistics.
func (c *HeaderCache) Stats() CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	maxEntries := c.maxEntries
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Entries:    entries,
		MaxEntries: maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (c *HeaderCache) removeFromOrder(path string) {
	for i, k := range c.order {
		if k == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
