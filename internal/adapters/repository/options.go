package repository

import "github.com/okian/popstats/pkg/logger"

// DefaultPrefix namespaces Redis keys.
const DefaultPrefix = "popstats"

// Option applies a configuration option to a store.
type Option func(*settings)

type settings struct {
	log    logger.Logger
	prefix string
}

func newSettings(opts []Option) settings {
	s := settings{log: logger.NewNop(), prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithLogger sets the logger used by the store.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *settings) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}
