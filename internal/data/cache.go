package data

import (
	"context"
	"sync"

	"sc2overlay/internal/stats"
)

// maxCacheEntries bounds the cache. Rolling windows produce a fresh key on
// every call so they would otherwise grow it forever.
const maxCacheEntries = 64

// QueryCache provides thread-safe in-memory caching of statistics results
type QueryCache struct {
	mu   sync.RWMutex
	data map[string]stats.Snapshot
	// gen counts Clear calls
	gen uint64
}

// NewQueryCache creates a new query cache
func NewQueryCache() *QueryCache {
	return &QueryCache{
		data: make(map[string]stats.Snapshot),
	}
}

// Get retrieves a value from the cache
func (c *QueryCache) Get(key string) (stats.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	val, ok := c.data[key]
	if !ok {
		return stats.Snapshot{}, false
	}
	return val.Clone(), true
}

// Set stores a value in the cache
func (c *QueryCache) Set(key string, value stats.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.data) >= maxCacheEntries {
		c.data = make(map[string]stats.Snapshot)
	}
	c.data[key] = value.Clone()
}

// SetIfCurrent stores value only when the cache was not cleared since gen
// was read, so a result computed before a write cannot outlive it
func (c *QueryCache) SetIfCurrent(key string, value stats.Snapshot, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	if len(c.data) >= maxCacheEntries {
		c.data = make(map[string]stats.Snapshot)
	}
	c.data[key] = value.Clone()
	return true
}

// Generation returns the current generation, bumped by every Clear
func (c *QueryCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Clear removes all cached values
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]stats.Snapshot)
	c.gen++
}

// Len returns the number of cached entries
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// CachedLog memoizes GetMatchStats until the next successful write
type CachedLog struct {
	MatchLog
	cache *QueryCache
}

// WithCache wraps log with a statistics cache
func WithCache(log MatchLog) *CachedLog {
	return &CachedLog{MatchLog: log, cache: NewQueryCache()}
}

// Unwrap returns the underlying store
func (c *CachedLog) Unwrap() MatchLog {
	return c.MatchLog
}

// RecordMatch implements MatchLog and invalidates cached statistics
func (c *CachedLog) RecordMatch(ctx context.Context, rec MatchRecord) (int64, error) {
	id, err := c.MatchLog.RecordMatch(ctx, rec)
	if err == nil {
		c.cache.Clear()
	}
	return id, err
}

// ImportMatches forwards to the wrapped store when it supports bulk import
func (c *CachedLog) ImportMatches(ctx context.Context, recs []MatchRecord) (int, error) {
	n, err := Import(ctx, c.MatchLog, recs)
	if n > 0 {
		c.cache.Clear()
	}
	return n, err
}

// GetMatchStats implements MatchLog
func (c *CachedLog) GetMatchStats(ctx context.Context, filter *TimeFilter) (stats.Snapshot, error) {
	key := filter.String()
	if s, ok := c.cache.Get(key); ok {
		return s, nil
	}
	gen := c.cache.Generation()
	s, err := c.MatchLog.GetMatchStats(ctx, filter)
	if err != nil {
		return stats.Snapshot{}, err
	}
	c.cache.SetIfCurrent(key, s, gen)
	return s, nil
}
