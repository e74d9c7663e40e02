// Package model contains domain models passed between layers.
package model

import "time"

// PopularityEntry is one row reported by a stats provider.
// Provider order is popularity order.
type PopularityEntry struct {
	ItemID string // content item identifier
	Views  int64  // view count over the lookback window
}

// RankedItem is an item with its 1-based dense rank.
type RankedItem struct {
	ItemID string
	Rank   int
}

// FetchParams controls a stats provider query.
type FetchParams struct {
	LookbackDays int // number of days of history to consider
	Limit        int // maximum number of entries to return
}

// DefaultFetchParams returns the parameters used when no hook overrides them.
func DefaultFetchParams() FetchParams {
	return FetchParams{LookbackDays: 30, Limit: 100}
}

// CacheEntry is the cached result of a successful refresh cycle.
type CacheEntry struct {
	ItemIDs    []string  `json:"item_ids"`
	ComputedAt time.Time `json:"computed_at"`
	CycleID    string    `json:"cycle_id"`
}

// Fresh reports whether the entry is still valid for ttl at now.
func (e CacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return !e.ComputedAt.IsZero() && now.Sub(e.ComputedAt) < ttl
}
