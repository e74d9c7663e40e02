package lock

import (
	"errors"
	"fmt"
)

// Sentinel lock errors.
var (
	// ErrLockTimeout means the key was still held when the context ended.
	ErrLockTimeout = errors.New("lock wait timed out")
	// ErrLockBackend wraps failures talking to the lock server.
	ErrLockBackend = errors.New("lock backend error")
)

// timeout wraps ErrLockTimeout together with the context error.
func timeout(key string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, cause)
}
