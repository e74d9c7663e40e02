package cache

import (
	"context"
	"time"

	"github.com/karlseguin/ccache/v2"

	"github.com/okian/popstats/internal/domain/model"
	"github.com/okian/popstats/pkg/metrics"
)

// DefaultMaxSize bounds the number of tags held in memory.
const DefaultMaxSize = 1000

// MemoryCache is an in-process Cache. Expiry is checked lazily on access.
type MemoryCache struct {
	cache *ccache.Cache
}

// NewMemoryCache creates a cache holding up to maxSize tags.
func NewMemoryCache(maxSize int64) *MemoryCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &MemoryCache{
		cache: ccache.New(ccache.
			Configure().
			MaxSize(maxSize)),
	}
}

// GetOrCompute implements Cache.
func (c *MemoryCache) GetOrCompute(ctx context.Context, tag string, ttl time.Duration, compute ComputeFunc) (model.CacheEntry, bool, error) {
	// An entry stored under a longer ttl is stale for this caller.
	if item := c.cache.Get(tag); item != nil {
		if e, ok := item.Value().(model.CacheEntry); ok && !e.Fresh(time.Now(), ttl) {
			c.cache.Delete(tag)
		}
	}
	miss := false
	item, err := c.cache.Fetch(tag, ttl, func() (interface{}, error) {
		miss = true
		entry, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		entry.ComputedAt = time.Now()
		return entry, nil
	})
	if err != nil {
		return model.CacheEntry{}, false, err
	}
	if miss {
		metrics.RecordCacheMiss(tag)
	} else {
		metrics.RecordCacheHit(tag)
	}
	entry, _ := item.Value().(model.CacheEntry)
	return entry, !miss, nil
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, tag string) (model.CacheEntry, bool, error) {
	item := c.cache.Get(tag)
	if item == nil || item.Expired() {
		return model.CacheEntry{}, false, nil
	}
	entry, ok := item.Value().(model.CacheEntry)
	return entry, ok, nil
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(_ context.Context, tag string) error {
	c.cache.Delete(tag)
	return nil
}

// Close stops the cache's background worker.
func (c *MemoryCache) Close() {
	c.cache.Stop()
}
