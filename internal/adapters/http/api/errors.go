package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("missing refresh token")
	ErrForbidden    = errors.New("invalid refresh token")
)
