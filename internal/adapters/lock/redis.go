package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/okian/popstats/pkg/logger"
)

// Redis lock defaults.
const (
	DefaultTTL       = 30 * time.Second
	DefaultRetryWait = 50 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a lease based Locker: SET NX PX with a random token,
// released only by the holder of the token. A crashed holder's lease
// expires after ttl.
type RedisLocker struct {
	rdb       redis.UniversalClient
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
	log       logger.Logger
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithTTL sets the lease duration.
func WithTTL(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithRetryWait sets the polling interval while the key is held elsewhere.
func WithRetryWait(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retryWait = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg logger.Logger) RedisOption {
	return func(l *RedisLocker) {
		if lg != nil {
			l.log = lg
		}
	}
}

// NewRedisLocker creates a locker storing leases under prefix.
func NewRedisLocker(rdb redis.UniversalClient, prefix string, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		rdb:       rdb,
		prefix:    prefix,
		ttl:       DefaultTTL,
		retryWait: DefaultRetryWait,
		log:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	k := l.prefix + ":lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryWait)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, timeout(key, ctx.Err())
			}
			return nil, fmt.Errorf("%w: setnx %s: %w", ErrLockBackend, key, err)
		}
		if ok {
			return l.releaser(k, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, timeout(key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) releaser(k, token string) func() {
	return func() {
		// The caller's context may already be done; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{k}, token).Err(); err != nil && err != redis.Nil {
			l.log.Warn(ctx, "lock release failed", logger.String("key", k), logger.Error(err))
		}
	}
}
