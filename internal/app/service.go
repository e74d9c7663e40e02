// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/popstats/internal/adapters/repository"
	"github.com/okian/popstats/internal/domain/policy"
	"github.com/okian/popstats/internal/domain/refresh"
	"github.com/okian/popstats/internal/domain/types"
	"github.com/okian/popstats/pkg/logger"
)

// Service exposes refresh triggers and ranking reads.
type Service struct {
	mu sync.RWMutex

	// Core components
	coord   *refresh.Coordinator
	store   repository.Store
	catalog repository.Catalog

	// Configuration
	refreshTimeout time.Duration
	schedule       string
	policy         *policy.FilePolicy
	closers        []func() error

	// State
	started     bool
	startedAt   time.Time
	cron        *cron.Cron
	watchCancel context.CancelFunc
	watchDone   chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithRefreshTimeout bounds every trigger.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

// WithSchedule runs MaybeRefresh on a cron schedule. Empty disables it.
func WithSchedule(spec string) Option {
	return func(s *Service) {
		s.schedule = spec
	}
}

// WithPolicy watches p for changes while the service runs.
func WithPolicy(p *policy.FilePolicy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithCatalog enables content kind writes through SetContentKind.
func WithCatalog(c repository.Catalog) Option {
	return func(s *Service) {
		s.catalog = c
	}
}

// WithCloser registers a function run on Stop, in reverse order.
func WithCloser(fn func() error) Option {
	return func(s *Service) {
		if fn != nil {
			s.closers = append(s.closers, fn)
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service around a coordinator and the store it commits to.
func New(coord *refresh.Coordinator, store repository.Store, opts ...Option) *Service {
	s := &Service{
		coord:          coord,
		store:          store,
		refreshTimeout: 10 * time.Second,
		logger:         logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the scheduled trigger and the policy watcher.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.schedule, s.scheduledRefresh); err != nil {
			return errors.Join(ErrSchedule, err)
		}
		c.Start()
		s.cron = c
	}

	if s.policy != nil {
		wctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := s.policy.Watch(wctx); err != nil {
				s.logger.Error(wctx, "policy watcher stopped", logger.Error(err))
			}
		}()
		s.watchCancel, s.watchDone = cancel, done
	}

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "popularity service started",
		logger.String("tag", s.coord.Tag()),
		logger.String("schedule", s.schedule),
		logger.Duration("refresh_timeout", s.refreshTimeout),
	)
	return nil
}

// Stop halts background work and releases resources.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	if s.watchCancel != nil {
		s.watchCancel()
		<-s.watchDone
		s.watchCancel, s.watchDone = nil, nil
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn(ctx, "close failed", logger.Error(err))
		}
	}
	s.closers = nil

	if s.started {
		s.started = false
		s.logger.Info(ctx, "popularity service stopped")
	}
}

func (s *Service) scheduledRefresh() {
	ctx := context.Background()
	res, err := s.MaybeRefresh(ctx)
	if err != nil {
		s.logger.Error(ctx, "scheduled refresh failed", logger.Error(err))
		return
	}
	s.logger.Debug(ctx, "scheduled refresh",
		logger.Bool("refreshed", res.Refreshed), logger.String("skipped", res.Skipped))
}

// MaybeRefresh refreshes the ranking if the cache has expired.
func (s *Service) MaybeRefresh(ctx context.Context) (types.RefreshResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()
	return toResponse(s.coord.MaybeRefresh(ctx))
}

// Refresh forces a refresh cycle.
func (s *Service) Refresh(ctx context.Context) (types.RefreshResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()
	return toResponse(s.coord.Refresh(ctx))
}

func toResponse(r refresh.Result, err error) (types.RefreshResponse, error) {
	return types.RefreshResponse{
		Refreshed: r.Refreshed,
		CycleID:   r.CycleID,
		Fetched:   r.Fetched,
		Ranked:    r.Ranked,
		Skipped:   r.Skipped,
	}, err
}

// Tag returns the default ranking namespace.
func (s *Service) Tag() string { return s.coord.Tag() }

// Popular lists ranked items of tag. An empty tag means the default one.
// Ids and ranks come from a single store read.
func (s *Service) Popular(ctx context.Context, tag string, limit int, order repository.Order) ([]types.Entry, error) {
	if tag == "" {
		tag = s.coord.Tag()
	}
	items, err := s.store.ListRanked(ctx, tag, limit, order)
	if err != nil {
		return nil, err
	}
	out := make([]types.Entry, len(items))
	for i, it := range items {
		out[i] = types.Entry{Rank: it.Rank, ItemID: it.ItemID}
	}
	return out, nil
}

// Rank returns the rank of one item.
func (s *Service) Rank(ctx context.Context, tag, itemID string) (types.RankResponse, error) {
	if tag == "" {
		tag = s.coord.Tag()
	}
	rank, err := s.store.GetRank(ctx, itemID, tag)
	if err != nil {
		return types.RankResponse{}, err
	}
	return types.RankResponse{ItemID: itemID, Rank: rank, Tag: tag}, nil
}

// SetContentKind records the content kind of an item in the catalog.
// It takes effect from the next refresh cycle.
func (s *Service) SetContentKind(ctx context.Context, itemID, kind string) error {
	if s.catalog == nil {
		return repository.ErrNoCatalog
	}
	if itemID == "" || kind == "" {
		return ErrBadKind
	}
	if err := s.catalog.UpsertContent(ctx, itemID, kind); err != nil {
		return err
	}
	s.logger.Info(ctx, "content kind recorded", logger.String("item_id", itemID), logger.String("kind", kind))
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":        s.started,
		"tag":            s.coord.Tag(),
		"ttlSeconds":     s.coord.TTL().Seconds(),
		"schedule":       s.schedule,
		"refreshTimeout": s.refreshTimeout.String(),
		"catalog":        s.catalog != nil,
	}
	if s.started {
		stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())
	}
	if n, err := s.store.Count(context.Background(), s.coord.Tag()); err == nil {
		stats["rankedItems"] = n
	}
	if last, ok := s.coord.Last(); ok {
		stats["lastCycle"] = map[string]interface{}{
			"cycleId":   last.CycleID,
			"refreshed": last.Refreshed,
			"fetched":   last.Fetched,
			"ranked":    last.Ranked,
			"skipped":   last.Skipped,
		}
	}
	return stats
}
