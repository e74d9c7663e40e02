// Package repository defines the ranking store interface, its errors and
// the memory, Redis and SQL implementations.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/okian/popstats/internal/domain/model"
	"github.com/okian/popstats/pkg/metrics"
)

// Order selects the direction of ListByRank.
type Order int

const (
	// Asc lists rank 1 first.
	Asc Order = iota
	// Desc lists the highest rank first.
	Desc
)

// ParseOrder maps "asc", "desc" and "" (asc) to an Order.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	}
	return Asc, errors.Wrapf(ErrInvalidOrder, "%q", s)
}

func (o Order) String() string {
	if o == Desc {
		return "desc"
	}
	return "asc"
}

// Store maps item ids to ranks, one mapping per tag.
type Store interface {
	// ClearAll removes every rank under tag. Clearing an empty tag is not an error.
	ClearAll(ctx context.Context, tag string) error
	// SetRank creates or replaces the rank of itemID under tag.
	SetRank(ctx context.Context, itemID string, rank int, tag string) error
	// GetRank returns the rank of itemID, or ErrNotFound.
	GetRank(ctx context.Context, itemID, tag string) (int, error)
	// ListByRank returns item ids ordered by rank. limit <= 0 returns all.
	ListByRank(ctx context.Context, tag string, limit int, order Order) ([]string, error)
	// ListRanked is ListByRank with each item's rank, read from one version
	// of the ranking.
	ListRanked(ctx context.Context, tag string, limit int, order Order) ([]model.RankedItem, error)
	// Replace swaps the whole ranking of tag for items. Readers observe
	// either the previous ranking or the new one, never a mix.
	Replace(ctx context.Context, tag string, items []model.RankedItem) error
	// Count returns the number of ranked items under tag.
	Count(ctx context.Context, tag string) (int, error)
}

// Catalog records the content kind of items. It backs kind based eligibility.
type Catalog interface {
	UpsertContent(ctx context.Context, itemID, kind string) error
	Kind(ctx context.Context, itemID string) (kind string, ok bool, err error)
}

// observe records latency and failures of a store operation.
func observe(op string, start time.Time, err *error) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Milliseconds()))
	if err != nil && *err != nil && !errors.Is(*err, ErrNotFound) {
		metrics.RecordStoreError(op)
	}
}

// storeErr wraps err in ErrStore, keeping err in the chain.
func storeErr(err error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, fmt.Sprintf(format, args...), err)
}
