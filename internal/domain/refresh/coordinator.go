// Package refresh runs popularity refresh cycles: fetch from the stats
// provider, filter, rank densely, commit atomically and remember the result
// for a TTL so repeated triggers stay cheap.
package refresh

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/okian/popstats/internal/adapters/cache"
	"github.com/okian/popstats/internal/adapters/lock"
	"github.com/okian/popstats/internal/adapters/repository"
	"github.com/okian/popstats/internal/adapters/stats"
	"github.com/okian/popstats/internal/domain/eligibility"
	"github.com/okian/popstats/internal/domain/model"
	"github.com/okian/popstats/internal/domain/policy"
	"github.com/okian/popstats/pkg/logger"
	"github.com/okian/popstats/pkg/metrics"
)

// Defaults.
const (
	DefaultTTL = 24 * time.Hour
	DefaultTag = "be_stats"
)

// Reasons a trigger did not refresh.
const (
	SkipCacheHit            = "cache_hit"
	SkipProviderUnavailable = "provider_unavailable"
	SkipProviderError       = "provider_error"
)

// Result describes one trigger.
type Result struct {
	Refreshed bool
	CycleID   string
	Fetched   int
	Ranked    int
	Skipped   string
}

// Coordinator decides when to refresh and performs the refresh cycle.
// It is safe for concurrent use; cycles for the same tag never overlap.
type Coordinator struct {
	source     stats.Source
	filter     eligibility.Filter
	overrides  []eligibility.Override
	cache      cache.Cache
	store      repository.Store
	locker     lock.Locker
	paramsHook policy.ParamsHook

	tag           string
	ttl           time.Duration
	retryAttempts int
	retryBackoff  time.Duration

	last atomic.Pointer[Result]
	log  logger.Logger
}

// New creates a Coordinator.
func New(source stats.Source, filter eligibility.Filter, c cache.Cache, store repository.Store, opts ...Option) *Coordinator {
	co := &Coordinator{
		source:        source,
		filter:        filter,
		cache:         c,
		store:         store,
		locker:        lock.NewLocalLocker(),
		paramsHook:    policy.Identity,
		tag:           DefaultTag,
		ttl:           DefaultTTL,
		retryAttempts: 3,
		retryBackoff:  200 * time.Millisecond,
		log:           logger.NewNop(),
	}
	for _, opt := range opts {
		opt(co)
	}
	if co.source == nil {
		co.source = stats.Disabled{}
	}
	if co.filter == nil {
		co.filter = eligibility.FilterFunc(func(context.Context, string) bool { return false })
	}
	co.filter = eligibility.Combine(co.filter, co.overrides...)
	return co
}

// Tag returns the namespace this coordinator refreshes.
func (c *Coordinator) Tag() string { return c.tag }

// TTL returns the cache lifetime of a successful cycle.
func (c *Coordinator) TTL() time.Duration { return c.ttl }

// Last returns the result of the most recent trigger, if any.
func (c *Coordinator) Last() (Result, bool) {
	if r := c.last.Load(); r != nil {
		return *r, true
	}
	return Result{}, false
}

// MaybeRefresh refreshes the ranking unless a live cache entry exists.
// Provider failures are logged and reported in Result.Skipped with a nil
// error; the previous ranking stays in place. A commit failure is returned.
func (c *Coordinator) MaybeRefresh(ctx context.Context) (Result, error) {
	entry, ok, err := c.cache.Get(ctx, c.tag)
	if err != nil {
		c.log.Warn(ctx, "cache lookup failed", logger.String("tag", c.tag), logger.Error(err))
	}
	if ok {
		metrics.RecordRefresh(c.tag, metrics.OutcomeCacheHit)
		return c.record(Result{CycleID: entry.CycleID, Skipped: SkipCacheHit}), nil
	}
	return c.run(ctx, false)
}

// Refresh forces a cycle regardless of the cache.
func (c *Coordinator) Refresh(ctx context.Context) (Result, error) {
	return c.run(ctx, true)
}

func (c *Coordinator) run(ctx context.Context, force bool) (Result, error) {
	start := time.Now()
	release, err := c.locker.Acquire(ctx, c.tag)
	metrics.RecordLockWait(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordRefresh(c.tag, metrics.OutcomeLockError)
		c.log.Warn(ctx, "refresh guard not acquired", logger.String("tag", c.tag), logger.Error(err))
		return Result{}, err
	}
	defer release()

	if force {
		if err := c.cache.Invalidate(ctx, c.tag); err != nil {
			c.log.Warn(ctx, "cache invalidate failed", logger.String("tag", c.tag), logger.Error(err))
		}
	}

	// Another trigger may have finished a cycle while this one waited.
	var res Result
	entry, hit, err := c.cache.GetOrCompute(ctx, c.tag, c.ttl, func(ctx context.Context) (model.CacheEntry, error) {
		var ids []string
		var cerr error
		res, ids, cerr = c.cycle(ctx)
		if cerr != nil {
			return model.CacheEntry{}, cerr
		}
		return model.CacheEntry{ItemIDs: ids, CycleID: res.CycleID}, nil
	})

	switch {
	case hit:
		metrics.RecordRefresh(c.tag, metrics.OutcomeCacheHit)
		return c.record(Result{CycleID: entry.CycleID, Skipped: SkipCacheHit}), nil
	case errors.Is(err, stats.ErrProviderUnavailable):
		metrics.RecordRefresh(c.tag, metrics.OutcomeProviderUnavailable)
		res.Skipped = SkipProviderUnavailable
		return c.record(res), nil
	case errors.Is(err, stats.ErrProviderError):
		metrics.RecordRefresh(c.tag, metrics.OutcomeProviderError)
		res.Skipped = SkipProviderError
		return c.record(res), nil
	case err != nil:
		metrics.RecordRefresh(c.tag, metrics.OutcomeStoreError)
		c.record(res)
		return res, err
	}

	res.Refreshed = true
	metrics.RecordRefresh(c.tag, metrics.OutcomeRefreshed)
	metrics.RecordRefreshDuration(float64(time.Since(start).Milliseconds()))
	return c.record(res), nil
}

func (c *Coordinator) record(r Result) Result {
	c.last.Store(&r)
	return r
}

// cycle fetches, ranks and commits. It returns every fetched id so the
// cache holds the provider's view, not only the ranked subset.
func (c *Coordinator) cycle(ctx context.Context) (Result, []string, error) {
	res := Result{CycleID: ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()}
	log := c.log.With(logger.String("cycle_id", res.CycleID), logger.String("tag", c.tag))

	params := c.paramsHook(model.DefaultFetchParams())
	fetchStart := time.Now()
	entries, err := c.source.Fetch(ctx, params)
	metrics.RecordFetchLatency(float64(time.Since(fetchStart).Milliseconds()))
	if err != nil {
		if !errors.Is(err, stats.ErrProviderUnavailable) && !errors.Is(err, stats.ErrProviderError) {
			err = errors.Wrapf(stats.ErrProviderError, "%v", err)
		}
		metrics.RecordErrorByComponent("stats", kindOf(err))
		log.Warn(ctx, "stats fetch failed, keeping previous ranking",
			logger.Int("lookback_days", params.LookbackDays), logger.Int("limit", params.Limit), logger.Error(err))
		return res, nil, err
	}

	ids := itemIDs(entries)
	ranked := c.rank(ctx, ids)
	res.Fetched, res.Ranked = len(ids), len(ranked)

	if err := c.commit(ctx, ranked); err != nil {
		metrics.RecordErrorByComponent("repository", "commit")
		log.Error(ctx, "ranking commit failed", logger.Int("ranked", len(ranked)), logger.Error(err))
		return res, nil, err
	}

	metrics.RecordCommit(c.tag, res.Fetched, res.Ranked, time.Now().Unix())
	log.Info(ctx, "ranking refreshed", logger.Int("fetched", res.Fetched), logger.Int("ranked", res.Ranked))
	return res, ids, nil
}

// itemIDs keeps provider order, dropping blank ids and repeats.
func itemIDs(entries []model.PopularityEntry) []string {
	seen := make(map[string]struct{}, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ItemID == "" {
			continue
		}
		if _, dup := seen[e.ItemID]; dup {
			continue
		}
		seen[e.ItemID] = struct{}{}
		ids = append(ids, e.ItemID)
	}
	return ids
}

// rank assigns dense ranks from 1 to eligible ids in order.
func (c *Coordinator) rank(ctx context.Context, ids []string) []model.RankedItem {
	ranked := make([]model.RankedItem, 0, len(ids))
	for _, id := range ids {
		if !c.filter.IsEligible(ctx, id) {
			continue
		}
		ranked = append(ranked, model.RankedItem{ItemID: id, Rank: len(ranked) + 1})
	}
	return ranked
}

func (c *Coordinator) commit(ctx context.Context, ranked []model.RankedItem) error {
	var err error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if err = c.store.Replace(ctx, c.tag, ranked); err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrInvalidRank) || attempt == c.retryAttempts {
			break
		}
		metrics.RecordStoreRetry()
		c.log.Warn(ctx, "ranking commit failed, retrying", logger.Int("attempt", attempt), logger.Error(err))

		t := time.NewTimer(c.retryBackoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
			attempt = c.retryAttempts
		case <-t.C:
		}
	}
	if errors.Is(err, repository.ErrStore) {
		return errors.Wrapf(err, "commit %s after %d attempts", c.tag, c.retryAttempts)
	}
	return fmt.Errorf("%w: commit %s after %d attempts: %w", repository.ErrStore, c.tag, c.retryAttempts, err)
}

func kindOf(err error) string {
	if errors.Is(err, stats.ErrProviderUnavailable) {
		return "provider_unavailable"
	}
	return "provider_error"
}
