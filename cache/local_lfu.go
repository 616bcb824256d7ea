package cache

import (
	"sync/atomic"
	"time"

	lfu "github.com/dgraph-io/ristretto"
)

// LFUCacheFactory creates Ristretto-backed idle pools.
type LFUCacheFactory struct {
	config LocalCacheConfig
}

// NewLFUCacheFactory creates a new LFU idle pool factory.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &LFUCacheFactory{config: config}
}

// Create creates a new LFU idle pool.
func (rcf *LFUCacheFactory) Create() (LocalCache, error) {
	return NewLFUCache(rcf.config)
}

// LFUCache parks entries under Ristretto's admission policy: when the pool
// is full, endpoints that are revived often win over one-off queries.
// Every parked entry costs 1, so MaxCost is the entry limit.
type LFUCache struct {
	cache *lfu.Cache
	ttl   time.Duration

	purging atomic.Bool

	parked    atomic.Int64
	revived   atomic.Int64
	missed    atomic.Int64
	evictions atomic.Int64
}

// NewLFUCache creates an LFU idle pool.
func NewLFUCache(config LocalCacheConfig) (*LFUCache, error) {
	rc := &LFUCache{ttl: config.TTL}
	cache, err := lfu.NewCache(&lfu.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: config.IgnoreInternalCost,
		OnEvict: func(*lfu.Item) {
			if !rc.purging.Load() {
				rc.evictions.Add(1)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	rc.cache = cache
	return rc, nil
}

// Park stores entry. Ristretto buffers writes, so Park waits for the buffer
// to drain; a revive right after must see the entry. The admission policy
// may still refuse it.
func (rc *LFUCache) Park(key string, entry any) bool {
	if !rc.cache.SetWithTTL(key, entry, 1, rc.ttl) {
		return false
	}
	rc.cache.Wait()
	if _, ok := rc.cache.Get(key); !ok {
		return false
	}
	rc.parked.Add(1)
	return true
}

func (rc *LFUCache) Take(key string) (any, bool) {
	entry, ok := rc.cache.Get(key)
	if !ok {
		rc.missed.Add(1)
		return nil, false
	}
	rc.cache.Del(key)
	rc.revived.Add(1)
	return entry, true
}

func (rc *LFUCache) Drop(key string) {
	rc.cache.Del(key)
}

// Purge empties the pool. Ristretto reports cleared items as evictions, so
// they are ignored while Purge runs; an expiry racing it goes uncounted.
func (rc *LFUCache) Purge() {
	rc.purging.Store(true)
	defer rc.purging.Store(false)
	rc.cache.Clear()
}

func (rc *LFUCache) Close() {
	rc.cache.Close()
}

func (rc *LFUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Parked:    rc.parked.Load(),
		Revived:   rc.revived.Load(),
		Missed:    rc.missed.Load(),
		Evictions: rc.evictions.Load(),
	}
}
