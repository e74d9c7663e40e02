package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/okian/popstats/internal/domain/model"
	"github.com/okian/popstats/pkg/logger"
	"github.com/okian/popstats/pkg/metrics"
)

// RedisCache keeps entries as JSON strings with a Redis TTL, so every
// instance sharing the server sees the same cache slot.
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
	log    logger.Logger
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) RedisOption {
	return func(c *RedisCache) {
		if l != nil {
			c.log = l
		}
	}
}

// NewRedisCache creates a cache storing keys under prefix.
func NewRedisCache(rdb redis.UniversalClient, prefix string, opts ...RedisOption) *RedisCache {
	c := &RedisCache{rdb: rdb, prefix: prefix, log: logger.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key(tag string) string {
	return c.prefix + ":cache:" + tag
}

// GetOrCompute implements Cache. A write failure after a successful compute
// is logged and the computed entry is still returned.
func (c *RedisCache) GetOrCompute(ctx context.Context, tag string, ttl time.Duration, compute ComputeFunc) (model.CacheEntry, bool, error) {
	entry, ok, err := c.Get(ctx, tag)
	if err != nil {
		c.log.Warn(ctx, "cache read failed, computing", logger.String("tag", tag), logger.Error(err))
	}
	if ok && entry.Fresh(time.Now(), ttl) {
		metrics.RecordCacheHit(tag)
		return entry, true, nil
	}
	metrics.RecordCacheMiss(tag)

	entry, err = compute(ctx)
	if err != nil {
		return model.CacheEntry{}, false, err
	}
	entry.ComputedAt = time.Now()

	b, err := json.Marshal(entry)
	if err != nil {
		return entry, false, errors.Wrapf(ErrCache, "encode entry: %v", err)
	}
	if err := c.rdb.Set(ctx, c.key(tag), b, ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache write failed", logger.String("tag", tag), logger.Error(err))
	}
	return entry, false, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, tag string) (model.CacheEntry, bool, error) {
	var entry model.CacheEntry
	b, err := c.rdb.Get(ctx, c.key(tag)).Bytes()
	if err == redis.Nil {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, errors.Wrapf(ErrCache, "get %s: %v", tag, err)
	}
	if err := json.Unmarshal(b, &entry); err != nil {
		return entry, false, errors.Wrapf(ErrCache, "decode %s: %v", tag, err)
	}
	return entry, true, nil
}

// Invalidate implements Cache.
func (c *RedisCache) Invalidate(ctx context.Context, tag string) error {
	if err := c.rdb.Del(ctx, c.key(tag)).Err(); err != nil {
		return errors.Wrapf(ErrCache, "del %s: %v", tag, err)
	}
	return nil
}
