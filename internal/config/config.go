// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"fmt"
	"time"
)

// Store, cache and lock driver names.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverLocal    = "local"

	ProviderCSV        = "csv"
	ProviderExposition = "exposition"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Tag namespaces the ranking in cache and store.
	Tag string `koanf:"tag"`

	// LookbackDays and Limit are the default fetch parameters.
	LookbackDays int `koanf:"lookback_days"`
	Limit        int `koanf:"limit"`

	// RefreshTimeout bounds a single trigger, including the provider call.
	RefreshTimeout time.Duration `koanf:"refresh_timeout"`

	// RefreshToken guards POST /refresh. Empty disables the check.
	RefreshToken string `koanf:"refresh_token"`

	// Schedule is an optional cron expression for background triggers.
	Schedule string `koanf:"schedule"`

	// EligibleKinds lists content kinds that may be ranked.
	EligibleKinds []string `koanf:"eligible_kinds"`

	// DefaultKind is assumed for every item when no catalog is in use, that is
	// neither a SQL store nor a policy file listing kinds. Empty disables it.
	DefaultKind string `koanf:"default_kind"`

	// PolicyFile points at an optional YAML policy, hot reloaded.
	PolicyFile string `koanf:"policy_file"`

	StatsProvider     string        `koanf:"stats_provider"`
	StatsEndpoint     string        `koanf:"stats_endpoint"`
	StatsAPIKey       string        `koanf:"stats_api_key"`
	StatsTimeout      time.Duration `koanf:"stats_timeout"`
	StatsMinInterval  time.Duration `koanf:"stats_min_interval"`
	StatsIDColumn     string        `koanf:"stats_id_column"`
	StatsViewsColumn  string        `koanf:"stats_views_column"`
	StatsMetric       string        `koanf:"stats_metric"`
	StoreDriver       string        `koanf:"store_driver"`
	StoreDSN          string        `koanf:"store_dsn"`
	StoreRetries      int           `koanf:"store_retry_attempts"`
	StoreRetryBackoff time.Duration `koanf:"store_retry_backoff"`
	CacheDriver       string        `koanf:"cache_driver"`
	CacheSize         int64         `koanf:"cache_size"`
	LockDriver        string        `koanf:"lock_driver"`
	LockTTL           time.Duration `koanf:"lock_ttl"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`

	// MaxListLimit caps GET /popular?limit.
	MaxListLimit int `koanf:"max_list_limit"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		Addr:              ":9080",
		Tag:               "be_stats",
		LookbackDays:      30,
		Limit:             100,
		RefreshTimeout:    10 * time.Second,
		EligibleKinds:     []string{"post"},
		DefaultKind:       "post",
		StatsTimeout:      5 * time.Second,
		StatsMinInterval:  time.Second,
		StatsIDColumn:     "post_id",
		StatsViewsColumn:  "views",
		StatsMetric:       "item_views",
		StoreDriver:       DriverMemory,
		StoreRetries:      3,
		StoreRetryBackoff: 200 * time.Millisecond,
		CacheDriver:       DriverMemory,
		CacheSize:         1000,
		LockDriver:        DriverLocal,
		LockTTL:           30 * time.Second,
		RedisAddr:         "localhost:6379",
		RedisPrefix:       "popstats",
		MaxListLimit:      100,
	}
}

// Validate checks the loaded configuration for values the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.Tag == "":
		return invalid("tag must not be empty")
	case c.LookbackDays < 1:
		return invalid("lookback_days must be positive")
	case c.Limit < 1:
		return invalid("limit must be positive")
	case c.MaxListLimit < 1:
		return invalid("max_list_limit must be positive")
	}

	switch c.StatsProvider {
	case "", ProviderCSV, ProviderExposition:
	default:
		return invalid(fmt.Sprintf("unknown stats_provider %q", c.StatsProvider))
	}
	if c.StatsProvider != "" && c.StatsEndpoint == "" {
		return invalid("stats_endpoint is required when stats_provider is set")
	}

	switch c.StoreDriver {
	case DriverMemory, DriverRedis:
	case DriverSQLite, DriverPostgres:
		if c.StoreDSN == "" {
			return invalid("store_dsn is required for sql store drivers")
		}
	default:
		return invalid(fmt.Sprintf("unknown store_driver %q", c.StoreDriver))
	}

	switch c.CacheDriver {
	case DriverMemory, DriverRedis:
	default:
		return invalid(fmt.Sprintf("unknown cache_driver %q", c.CacheDriver))
	}

	switch c.LockDriver {
	case DriverLocal, DriverRedis:
	default:
		return invalid(fmt.Sprintf("unknown lock_driver %q", c.LockDriver))
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.StoreDriver == DriverRedis || c.CacheDriver == DriverRedis || c.LockDriver == DriverRedis
}
