// Package eligibility decides which content items may receive a popularity rank.
package eligibility

import (
	"context"
)

// Filter reports whether an item may be ranked. Implementations must not
// have side effects and must never fail: unknown items are ineligible.
type Filter interface {
	IsEligible(ctx context.Context, itemID string) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, itemID string) bool

// IsEligible implements Filter.
func (f FilterFunc) IsEligible(ctx context.Context, itemID string) bool { return f(ctx, itemID) }

// Override adjusts the default verdict for an item. It is called once per
// candidate per refresh cycle.
type Override func(def bool, itemID string) bool

// Combine returns a Filter that evaluates base and then applies each override
// in order, passing along the previous verdict.
func Combine(base Filter, overrides ...Override) Filter {
	if len(overrides) == 0 {
		return base
	}
	return FilterFunc(func(ctx context.Context, itemID string) bool {
		verdict := base.IsEligible(ctx, itemID)
		for _, o := range overrides {
			if o != nil {
				verdict = o(verdict, itemID)
			}
		}
		return verdict
	})
}
