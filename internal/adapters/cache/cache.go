// Package cache holds the most recent refresh result per tag so that
// repeated triggers within the TTL do not reach the stats provider.
package cache

import (
	"context"
	"time"

	"github.com/okian/popstats/internal/domain/model"
)

// ComputeFunc produces a fresh entry on a cache miss.
type ComputeFunc func(ctx context.Context) (model.CacheEntry, error)

// Cache stores one CacheEntry per tag.
type Cache interface {
	// GetOrCompute returns the live entry for tag, or calls compute once and
	// stores its result with ComputedAt set to now. Failed computations are
	// not cached. An entry older than ttl counts as a miss even if it was
	// stored with a longer one. hit reports whether compute was skipped.
	GetOrCompute(ctx context.Context, tag string, ttl time.Duration, compute ComputeFunc) (entry model.CacheEntry, hit bool, err error)
	// Get returns the live entry for tag, if any.
	Get(ctx context.Context, tag string) (model.CacheEntry, bool, error)
	// Invalidate drops the entry for tag.
	Invalidate(ctx context.Context, tag string) error
}
