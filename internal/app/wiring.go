package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/okian/popstats/internal/adapters/cache"
	"github.com/okian/popstats/internal/adapters/lock"
	"github.com/okian/popstats/internal/adapters/repository"
	"github.com/okian/popstats/internal/adapters/stats"
	"github.com/okian/popstats/internal/config"
	"github.com/okian/popstats/internal/domain/eligibility"
	"github.com/okian/popstats/internal/domain/policy"
	"github.com/okian/popstats/internal/domain/refresh"
	"github.com/okian/popstats/pkg/logger"
)

// NewFromConfig builds every component named by cfg and returns a Service
// owning them. Stop releases what was opened here.
func NewFromConfig(ctx context.Context, cfg *config.Config, log logger.Logger) (svc *Service, err error) {
	if log == nil {
		log = logger.NewNop()
	}
	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()
	wrap := func(what string, err error) error {
		return errors.Join(ErrWiring, fmt.Errorf("%s: %w", what, err))
	}

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closers = append(closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, wrap("redis ping", err)
		}
	}

	storeOpts := []repository.Option{
		repository.WithLogger(log.Named("store")),
		repository.WithKeyPrefix(cfg.RedisPrefix),
	}
	var (
		store      repository.Store
		sqlCatalog repository.Catalog
		catalog    eligibility.Chain
	)
	switch cfg.StoreDriver {
	case config.DriverRedis:
		store = repository.NewRedisStore(rdb, storeOpts...)
	case config.DriverSQLite, config.DriverPostgres:
		sqlStore, err := repository.OpenSQL(ctx, cfg.StoreDriver, cfg.StoreDSN, storeOpts...)
		if err != nil {
			return nil, wrap("sql store", err)
		}
		closers = append(closers, sqlStore.Close)
		store = sqlStore
		sqlCatalog = sqlStore
		catalog = append(catalog, sqlStore)
	default:
		store = repository.NewMemoryStore()
	}

	var c cache.Cache
	switch cfg.CacheDriver {
	case config.DriverRedis:
		c = cache.NewRedisCache(rdb, cfg.RedisPrefix, cache.WithLogger(log.Named("cache")))
	default:
		mc := cache.NewMemoryCache(cfg.CacheSize)
		closers = append(closers, func() error { mc.Close(); return nil })
		c = mc
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.LockDriver == config.DriverRedis {
		locker = lock.NewRedisLocker(rdb, cfg.RedisPrefix,
			lock.WithTTL(cfg.LockTTL), lock.WithLogger(log.Named("lock")))
	}

	source := newSource(cfg, log.Named("stats"))

	hook := policy.Defaults(cfg.LookbackDays, cfg.Limit)
	coordOpts := []refresh.Option{
		refresh.WithTag(cfg.Tag),
		refresh.WithLocker(locker),
		refresh.WithStoreRetry(cfg.StoreRetries, cfg.StoreRetryBackoff),
		refresh.WithLogger(log.Named("refresh")),
	}
	svcOpts := []Option{
		WithLogger(log.Named("service")),
		WithRefreshTimeout(cfg.RefreshTimeout),
		WithSchedule(cfg.Schedule),
	}

	var fp *policy.FilePolicy
	if cfg.PolicyFile != "" {
		fp, err = policy.LoadFile(cfg.PolicyFile, policy.WithLogger(log.Named("policy")))
		if err != nil {
			return nil, wrap("policy", err)
		}
		// Policy kinds take precedence over the SQL catalog.
		catalog = append(eligibility.Chain{fp}, catalog...)
		hook = policy.Compose(hook, fp.Params)
		coordOpts = append(coordOpts, refresh.WithOverride(fp.Eligible))
		svcOpts = append(svcOpts, WithPolicy(fp))
	}
	if sqlCatalog != nil {
		svcOpts = append(svcOpts, WithCatalog(sqlCatalog))
	} else if cfg.DefaultKind != "" {
		// Unknown ids get the default kind only while no catalog is in use.
		catalog = append(catalog, fallbackKind(cfg.DefaultKind, fp))
	}
	coordOpts = append(coordOpts, refresh.WithParamsHook(hook))

	filter := eligibility.NewKindFilter(catalog,
		eligibility.WithKinds(cfg.EligibleKinds...),
		eligibility.WithLogger(log.Named("eligibility")),
	)
	coord := refresh.New(source, filter, c, store, coordOpts...)

	for _, fn := range closers {
		svcOpts = append(svcOpts, WithCloser(fn))
	}
	log.Info(ctx, "components wired",
		logger.String("store", cfg.StoreDriver),
		logger.String("cache", cfg.CacheDriver),
		logger.String("lock", cfg.LockDriver),
		logger.String("stats_provider", cfg.StatsProvider),
	)
	return New(coord, store, svcOpts...), nil
}

// fallbackKind resolves every id to kind unless the policy lists kinds,
// in which case ids missing from it stay unknown.
func fallbackKind(kind string, fp *policy.FilePolicy) eligibility.Resolver {
	static := eligibility.Static(kind)
	if fp == nil {
		return static
	}
	return eligibility.ResolverFunc(func(ctx context.Context, itemID string) (string, bool, error) {
		if len(fp.Current().Kinds) > 0 {
			return "", false, nil
		}
		return static.Kind(ctx, itemID)
	})
}

func newSource(cfg *config.Config, log logger.Logger) stats.Source {
	opts := []stats.Option{
		stats.WithTimeout(cfg.StatsTimeout),
		stats.WithMinInterval(cfg.StatsMinInterval),
		stats.WithLogger(log),
	}
	if cfg.StatsAPIKey != "" {
		opts = append(opts, stats.WithAPIKey(stats.DefaultAPIKeyHeader, cfg.StatsAPIKey))
	}
	switch cfg.StatsProvider {
	case config.ProviderCSV:
		return stats.NewCSVSource(cfg.StatsEndpoint, cfg.StatsIDColumn, cfg.StatsViewsColumn, opts...)
	case config.ProviderExposition:
		return stats.NewExpositionSource(cfg.StatsEndpoint, cfg.StatsMetric, opts...)
	}
	return stats.Disabled{}
}
