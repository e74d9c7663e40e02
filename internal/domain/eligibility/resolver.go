package eligibility

import (
	"context"
	"sync"
)

// Resolver looks up the content kind of an item.
// ok is false when the item is unknown.
type Resolver interface {
	Kind(ctx context.Context, itemID string) (kind string, ok bool, err error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, itemID string) (string, bool, error)

// Kind implements Resolver.
func (f ResolverFunc) Kind(ctx context.Context, itemID string) (string, bool, error) {
	return f(ctx, itemID)
}

// Static resolves every item to kind.
func Static(kind string) Resolver {
	return ResolverFunc(func(context.Context, string) (string, bool, error) {
		return kind, true, nil
	})
}

// MapResolver is a static, concurrency safe item catalog.
type MapResolver struct {
	mu    sync.RWMutex
	kinds map[string]string
}

// NewMapResolver copies kinds into a new resolver.
func NewMapResolver(kinds map[string]string) *MapResolver {
	m := &MapResolver{kinds: make(map[string]string, len(kinds))}
	for id, k := range kinds {
		m.kinds[id] = k
	}
	return m
}

// Set records the kind of an item.
func (m *MapResolver) Set(itemID, kind string) {
	m.mu.Lock()
	m.kinds[itemID] = kind
	m.mu.Unlock()
}

// Kind implements Resolver.
func (m *MapResolver) Kind(_ context.Context, itemID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.kinds[itemID]
	return k, ok, nil
}

// Chain asks each resolver in turn; the first that knows the item wins.
// A resolver error stops the chain.
type Chain []Resolver

// Kind implements Resolver.
func (c Chain) Kind(ctx context.Context, itemID string) (string, bool, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		k, ok, err := r.Kind(ctx, itemID)
		if err != nil {
			return "", false, err
		}
		if ok {
			return k, true, nil
		}
	}
	return "", false, nil
}
