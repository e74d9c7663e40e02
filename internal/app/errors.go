package service

import "errors"

// Sentinel errors for service wiring and catalog writes.
var (
	ErrSchedule = errors.New("invalid refresh schedule")
	ErrWiring   = errors.New("service wiring failed")
	ErrBadKind  = errors.New("item id and kind must not be empty")
)
