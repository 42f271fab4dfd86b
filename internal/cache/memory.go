package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries bounds a MemoryCache when no limit is configured.
const DefaultMaxEntries = 4096

type item struct {
	entry   *Entry
	expires time.Time
}

// MemoryCache is an in-process Cache. The mutex is only held to read or
// modify the map, never while a value is being computed.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]item
	maxEntries int
	now        func() time.Time
	stats      Stats
	stop       chan struct{}
	stopOnce   sync.Once
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) { c.now = now }
}

// WithMaxEntries bounds the number of stored entries.
func WithMaxEntries(n int) MemoryOption {
	return func(c *MemoryCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// NewMemoryCache returns an empty MemoryCache. If sweepInterval > 0 a
// janitor goroutine removes expired entries until Stop is called.
func NewMemoryCache(sweepInterval time.Duration, opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		items:      make(map[string]item),
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if sweepInterval > 0 {
		go c.janitor(sweepInterval)
	}
	return c
}

// Get implements Cache.Get.
func (c *MemoryCache) Get(_ context.Context, key Key) (*Entry, bool) {
	k := key.String()
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[k]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if !c.now().Before(it.expires) {
		delete(c.items, k)
		c.stats.Evictions++
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return it.entry, true
}

// Set implements Cache.Set.
func (c *MemoryCache) Set(_ context.Context, key Key, e *Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	k := key.String()
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.items[k]; !exists && len(c.items) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.items[k] = item{entry: e, expires: now.Add(ttl)}
	c.stats.Sets++
}

// evictLocked drops expired entries, or the entry closest to expiry if
// none have expired. Caller must hold c.mu.
func (c *MemoryCache) evictLocked(now time.Time) {
	var (
		soonest    string
		soonestExp time.Time
	)
	removed := 0
	for k, it := range c.items {
		if !now.Before(it.expires) {
			delete(c.items, k)
			removed++
			continue
		}
		if soonest == "" || it.expires.Before(soonestExp) || (it.expires.Equal(soonestExp) && k < soonest) {
			soonest, soonestExp = k, it.expires
		}
	}
	if removed == 0 && soonest != "" {
		delete(c.items, soonest)
		removed = 1
	}
	c.stats.Evictions += int64(removed)
}

// Len implements Cache.Len.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Stop ends the janitor goroutine, if any.
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *MemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, it := range c.items {
		if !now.Before(it.expires) {
			delete(c.items, k)
			c.stats.Evictions++
		}
	}
}
