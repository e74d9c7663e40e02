package eligibility

import (
	"context"

	"github.com/okian/popstats/pkg/logger"
)

// DefaultKind is the content kind eligible when no kinds are configured.
const DefaultKind = "post"

// KindFilter accepts items whose resolved kind is in an allowed set.
type KindFilter struct {
	resolver Resolver
	allowed  map[string]struct{}
	log      logger.Logger
}

// KindOption configures a KindFilter.
type KindOption func(*KindFilter)

// WithKinds sets the allowed content kinds. Empty input keeps the default.
func WithKinds(kinds ...string) KindOption {
	return func(f *KindFilter) {
		if len(kinds) == 0 {
			return
		}
		f.allowed = make(map[string]struct{}, len(kinds))
		for _, k := range kinds {
			if k != "" {
				f.allowed[k] = struct{}{}
			}
		}
	}
}

// WithLogger sets the logger used to report resolver failures.
func WithLogger(l logger.Logger) KindOption {
	return func(f *KindFilter) {
		if l != nil {
			f.log = l
		}
	}
}

// NewKindFilter creates a filter backed by resolver.
func NewKindFilter(resolver Resolver, opts ...KindOption) *KindFilter {
	f := &KindFilter{
		resolver: resolver,
		allowed:  map[string]struct{}{DefaultKind: {}},
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsEligible implements Filter.
func (f *KindFilter) IsEligible(ctx context.Context, itemID string) bool {
	if f.resolver == nil || itemID == "" {
		return false
	}
	kind, ok, err := f.resolver.Kind(ctx, itemID)
	if err != nil {
		f.log.Warn(ctx, "kind lookup failed", logger.String("item_id", itemID), logger.Error(err))
		return false
	}
	if !ok {
		return false
	}
	_, allowed := f.allowed[kind]
	return allowed
}

// Kinds returns the allowed kinds.
func (f *KindFilter) Kinds() []string {
	out := make([]string, 0, len(f.allowed))
	for k := range f.allowed {
		out = append(out, k)
	}
	return out
}
