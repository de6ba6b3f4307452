// Package orchestrator ties the acquisition, extraction, classification
// and graph-builder layers together behind a per-domain single-flight and
// a bounded LRU SiteMap cache, and implements REFRESH over cached maps.
package orchestrator

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cortexmap/cortex/internal/sitemap"
)

// MapParams describes one MAP request; CacheKey derives its cache key.
type MapParams struct {
	Domain        string
	EntryPoints   []string
	MaxNodes      int
	MaxRender     int
	MaxTimeMS     int64
	RespectRobots bool
}

// CacheKey derives the cache key for a MapParams by joining the domain and
// the entry points in the order given. Entry points are not sorted or
// otherwise normalised, and MaxNodes, MaxRender, MaxTimeMS and
// RespectRobots are not part of the key.
func (p MapParams) CacheKey() string {
	key := p.Domain
	for _, e := range p.EntryPoints {
		key += "|" + e
	}
	return key
}

// CacheEntry is one cached SiteMap plus the bookkeeping needed for LRU
// eviction, TTL expiry and reference counting.
type CacheEntry struct {
	Key      string
	Map      *sitemap.SiteMap
	BuiltAt  time.Time
	refCount int32
	stale    bool

	lruElement *list.Element
	mu         sync.RWMutex
}

// Acquire increments the entry's reference count; the caller must call
// Release when done.
func (e *CacheEntry) Acquire() { atomic.AddInt32(&e.refCount, 1) }

// Release decrements the entry's reference count.
func (e *CacheEntry) Release() { atomic.AddInt32(&e.refCount, -1) }

// InUse reports whether any caller currently holds a reference.
func (e *CacheEntry) InUse() bool { return atomic.LoadInt32(&e.refCount) > 0 }

// IsStale reports whether the entry has been marked for removal once
// released.
func (e *CacheEntry) IsStale() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stale
}

func (e *CacheEntry) markStale() {
	e.mu.Lock()
	e.stale = true
	e.mu.Unlock()
}

// WithReadLock runs fn with a shared lock held over the entry's SiteMap,
// for the duration of one query. Concurrent WithReadLock calls may run
// together; a WithWriteLock call waits for all of them to finish first.
func (e *CacheEntry) WithReadLock(fn func(*sitemap.SiteMap)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.Map)
}

// WithWriteLock runs fn with an exclusive lock held over the entry's
// SiteMap, used by Refresh so concurrent readers see either the
// pre-refresh or post-refresh row set, never a mix.
func (e *CacheEntry) WithWriteLock(fn func(*sitemap.SiteMap)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.Map)
}

// Options configures the SiteMap cache.
type Options struct {
	MaxEntries int
	TTL        time.Duration
}

// DefaultOptions returns the cache's default bounds: 128 domains, 1 hour
// TTL.
func DefaultOptions() Options {
	return Options{MaxEntries: 128, TTL: time.Hour}
}

// RefreshChange is one node's before/after on a REFRESH, reported back to
// the caller.
type RefreshChange struct {
	Node  uint32
	Field string
	Old   string
	New   string
}

// RefreshResult summarizes one REFRESH call.
type RefreshResult struct {
	Changes []RefreshChange
}
