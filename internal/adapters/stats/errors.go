package stats

import "errors"

// Sentinel errors for stats providers. Match them with errors.Is.
var (
	// ErrProviderUnavailable means no provider is configured or it cannot be reached.
	ErrProviderUnavailable = errors.New("stats provider unavailable")
	// ErrProviderError means the provider answered with a malformed or empty response.
	ErrProviderError = errors.New("stats provider error")
)
