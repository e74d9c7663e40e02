package repository

import "errors"

// Sentinel kinds for ranking store errors.
var (
	ErrStore        = errors.New("ranking store failure")
	ErrNotFound     = errors.New("item not ranked")
	ErrInvalidLimit = errors.New("invalid listing limit")
	ErrInvalidRank  = errors.New("rank must be positive")
	ErrInvalidOrder = errors.New("invalid listing order")
	ErrNoCatalog    = errors.New("no content catalog configured")
)
