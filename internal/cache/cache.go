// Package cache provides the bounded TTL cache used for query results and
// hot lookups. Eviction is LRU via hashicorp/golang-lru; per-entry TTLs are
// layered on top since the engine allows each set to carry its own lifetime.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"mindcore/internal/logging"
)

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
	MaxSize   int
}

// HitRate is hits / (hits+misses); zero when nothing was looked up yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	value     interface{}
	expiresAt time.Time // zero means no expiry
}

// Cache is a bounded TTL-LRU. All operations are O(1) amortized and safe for
// concurrent use. Expired entries found on Get are removed and counted as
// misses; Set on an existing key refreshes recency.
type Cache struct {
	mu         sync.Mutex
	lru        *lru.Cache[string, entry]
	maxSize    int
	defaultTTL time.Duration
	hits       uint64
	misses     uint64
	evictions  uint64
	// now is swappable for expiry tests.
	now func() time.Time
}

// New creates a cache holding at most maxSize entries. defaultTTL applies
// when Set is called without an explicit TTL; zero means entries never
// expire by time.
func New(maxSize int, defaultTTL time.Duration) (*Cache, error) {
	c := &Cache{maxSize: maxSize, defaultTTL: defaultTTL, now: time.Now}
	inner, err := lru.New[string, entry](maxSize)
	if err != nil {
		return nil, err
	}
	c.lru = inner
	return c, nil
}

// Get returns the live value for key. Expired entries are purged and
// reported as misses.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.lru.Remove(key)
		c.misses++
		logging.Get(logging.CategoryCache).Debug("expired entry purged: %s", key)
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL. ttl <= 0 means the
// entry never expires by time. Setting an existing key refreshes recency.
func (c *Cache) SetTTL(key string, value interface{}, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	if evicted := c.lru.Add(key, e); evicted {
		c.evictions++
	}
	c.mu.Unlock()
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
}

// Clear drops every entry and resets nothing else; counters persist.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}

// Stats returns a point-in-time copy of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.lru.Len(),
		MaxSize:   c.maxSize,
	}
}
