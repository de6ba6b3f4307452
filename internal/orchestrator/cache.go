package orchestrator

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cortexmap/cortex/internal/sitemap"
)

// BuildFunc produces a fresh SiteMap for one MAP request.
type BuildFunc func(ctx context.Context, params MapParams) (*sitemap.SiteMap, error)

// Cache is a bounded LRU of SiteMap handles keyed by MapParams.CacheKey,
// with per-key single-flight so concurrent MAP calls
// for the same domain share one acquisition run. Entries are
// reference-counted so an eviction can never free a SiteMap a query still
// holds.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
	lru     *list.List
	flight  singleflight.Group
	opts    Options
}

// New builds a Cache with the given options.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultOptions().MaxEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	return &Cache{
		entries: make(map[string]*CacheEntry),
		lru:     list.New(),
		opts:    opts,
	}
}

// Get returns a cached, non-expired entry along with a release function
// the caller must invoke when done. It does not build on a miss.
func (c *Cache) Get(key string) (*CacheEntry, func(), bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	if !ok || entry.IsStale() || c.expired(entry) {
		c.mu.RUnlock()
		return nil, nil, false
	}
	entry.Acquire()
	c.mu.RUnlock()

	c.mu.Lock()
	if entry.lruElement != nil {
		c.lru.MoveToFront(entry.lruElement)
	}
	c.mu.Unlock()

	release := func() {
		entry.Release()
		if entry.IsStale() && !entry.InUse() {
			c.tryRemove(key)
		}
	}
	return entry, release, true
}

// GetOrBuild returns the cached entry for key, or builds one via build if
// absent, expired, or force is set. Concurrent calls for the same key
// share a single build.
func (c *Cache) GetOrBuild(ctx context.Context, params MapParams, force bool, build BuildFunc) (*CacheEntry, func(), error) {
	key := params.CacheKey()
	if !force {
		if entry, release, ok := c.Get(key); ok {
			return entry, release, nil
		}
	}

	result, err, _ := c.flight.Do(key, func() (any, error) {
		m, err := build(ctx, params)
		if err != nil {
			return nil, err
		}
		return c.put(key, m), nil
	})
	if err != nil {
		return nil, nil, err
	}

	entry := result.(*CacheEntry)
	entry.Acquire()
	release := func() {
		entry.Release()
		if entry.IsStale() && !entry.InUse() {
			c.tryRemove(key)
		}
	}
	return entry, release, nil
}

func (c *Cache) put(key string, m *sitemap.SiteMap) *CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.markStale()
		c.removeLocked(key, existing)
	}

	c.evictIfNeeded()

	entry := &CacheEntry{Key: key, Map: m, BuiltAt: time.Now()}
	entry.lruElement = c.lru.PushFront(key)
	c.entries[key] = entry
	return entry
}

// Invalidate marks the entry for key stale; it is removed once every
// holder releases it.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		entry.markStale()
	}
}

func (c *Cache) tryRemove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok && !entry.InUse() {
		c.removeLocked(key, entry)
	}
}

func (c *Cache) removeLocked(key string, entry *CacheEntry) {
	if entry.lruElement != nil {
		c.lru.Remove(entry.lruElement)
	}
	delete(c.entries, key)
}

// evictIfNeeded evicts the least-recently-used entry with no active
// references, repeating until the cache is back under its entry limit.
// The cache may temporarily exceed MaxEntries if every entry is in use.
func (c *Cache) evictIfNeeded() {
	for len(c.entries) >= c.opts.MaxEntries {
		elem := c.lru.Back()
		for elem != nil {
			if entry, ok := c.entries[elem.Value.(string)]; !ok || !entry.InUse() {
				break
			}
			elem = elem.Prev()
		}
		if elem == nil {
			return
		}
		key := elem.Value.(string)
		entry, ok := c.entries[key]
		if !ok {
			c.lru.Remove(elem)
			continue
		}
		c.removeLocked(key, entry)
	}
}

func (c *Cache) expired(entry *CacheEntry) bool {
	if c.opts.TTL <= 0 {
		return false
	}
	return time.Since(entry.BuiltAt) > c.opts.TTL
}
