package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCacheFactory creates LRU idle pools.
type LRUCacheFactory struct {
	maxSize int
	ttl     time.Duration
}

// NewLRUCacheFactory creates a new LRU idle pool factory.
func NewLRUCacheFactory(maxSize int, ttl time.Duration) LocalCacheFactory {
	return &LRUCacheFactory{maxSize: maxSize, ttl: ttl}
}

// Create creates a new LRU idle pool.
func (lcf *LRUCacheFactory) Create() (LocalCache, error) {
	return NewLRUCache(lcf.maxSize, lcf.ttl)
}

// LRUCache parks at most maxSize entries; the least recently parked one
// goes first, and every entry expires after ttl.
type LRUCache struct {
	cache   *expirable.LRU[string, any]
	maxSize int

	// The LRU reports every removal through one callback, including those
	// made by Take, Drop and Purge. Evictions are the difference.
	dropped atomic.Int64
	removed atomic.Int64

	parked  atomic.Int64
	revived atomic.Int64
	missed  atomic.Int64
}

// NewLRUCache creates an LRU idle pool. A zero ttl disables expiry.
func NewLRUCache(maxSize int, ttl time.Duration) (*LRUCache, error) {
	if maxSize <= 0 {
		return nil, ErrInvalidConfig
	}

	lc := &LRUCache{maxSize: maxSize}
	lc.cache = expirable.NewLRU[string, any](maxSize, func(string, any) {
		lc.dropped.Add(1)
	}, ttl)
	return lc, nil
}

func (lc *LRUCache) Park(key string, entry any) bool {
	lc.cache.Add(key, entry)
	lc.parked.Add(1)
	return true
}

func (lc *LRUCache) Take(key string) (any, bool) {
	entry, ok := lc.cache.Get(key)
	if !ok {
		lc.missed.Add(1)
		return nil, false
	}
	lc.remove(key)
	lc.revived.Add(1)
	return entry, true
}

func (lc *LRUCache) Drop(key string) {
	lc.remove(key)
}

// remove counts only a removal that actually happened; if the TTL sweeper
// got the key first, that expiry stays an eviction.
func (lc *LRUCache) remove(key string) {
	if lc.cache.Remove(key) {
		lc.removed.Add(1)
	}
}

// Purge empties the pool. An expiry racing Purge may be counted as purged
// rather than evicted.
func (lc *LRUCache) Purge() {
	n := lc.cache.Len()
	lc.cache.Purge()
	lc.removed.Add(int64(n))
}

func (lc *LRUCache) Close() {
	lc.Purge()
}

// Len returns the number of parked entries, expired ones included until
// the LRU sweeps them.
func (lc *LRUCache) Len() int {
	return lc.cache.Len()
}

func (lc *LRUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Parked:    lc.parked.Load(),
		Revived:   lc.revived.Load(),
		Missed:    lc.missed.Load(),
		Evictions: lc.dropped.Load() - lc.removed.Load(),
	}
}
