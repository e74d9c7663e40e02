package refresh

import (
	"time"

	"github.com/okian/popstats/internal/adapters/lock"
	"github.com/okian/popstats/internal/domain/eligibility"
	"github.com/okian/popstats/internal/domain/policy"
	"github.com/okian/popstats/pkg/logger"
)

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithTag sets the namespace of the cache slot and ranking.
func WithTag(tag string) Option {
	return func(c *Coordinator) {
		if tag != "" {
			c.tag = tag
		}
	}
}

// WithTTL sets how long a successful cycle suppresses the next one.
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLocker sets the per tag guard. Defaults to an in-process locker.
func WithLocker(l lock.Locker) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.locker = l
		}
	}
}

// WithOverride appends eligibility overrides, applied in order after the filter.
func WithOverride(overrides ...eligibility.Override) Option {
	return func(c *Coordinator) {
		c.overrides = append(c.overrides, overrides...)
	}
}

// WithParamsHook sets the fetch parameter hook.
func WithParamsHook(h policy.ParamsHook) Option {
	return func(c *Coordinator) {
		if h != nil {
			c.paramsHook = h
		}
	}
}

// WithStoreRetry sets how many times a failed commit is attempted and the
// base backoff between attempts. The backoff grows linearly.
func WithStoreRetry(attempts int, backoff time.Duration) Option {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		if backoff >= 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}
