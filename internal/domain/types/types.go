// Package types contains common types used across the application
package types

// Entry represents a ranked item in the popular listing.
type Entry struct {
	Rank   int    `json:"rank"`
	ItemID string `json:"item_id"`
}

// RefreshResponse reports the outcome of a refresh trigger.
type RefreshResponse struct {
	Refreshed bool   `json:"refreshed"`
	CycleID   string `json:"cycle_id,omitempty"`
	Fetched   int    `json:"fetched"`
	Ranked    int    `json:"ranked"`
	Skipped   string `json:"skipped,omitempty"`
}

// RankResponse is returned by the single item rank lookup.
type RankResponse struct {
	ItemID string `json:"item_id"`
	Rank   int    `json:"rank"`
	Tag    string `json:"tag"`
}
