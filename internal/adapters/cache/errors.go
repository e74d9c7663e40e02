package cache

import "errors"

// ErrCache wraps failures of the cache backend.
var ErrCache = errors.New("cache backend error")
