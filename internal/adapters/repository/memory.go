package repository

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/popstats/internal/domain/model"
)

// Snapshot is an immutable view of one tag's ranking.
type Snapshot struct {
	// RankByItem answers GetRank in O(1).
	RankByItem map[string]int
	// Ordered holds item ids by rank ascending, ties by item id.
	Ordered []string
}

var emptySnapshot = &Snapshot{RankByItem: map[string]int{}}

func newSnapshot(ranks map[string]int) *Snapshot {
	ordered := make([]string, 0, len(ranks))
	for id := range ranks {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool {
		ri, rj := ranks[ordered[i]], ranks[ordered[j]]
		if ri != rj {
			return ri < rj
		}
		return ordered[i] < ordered[j]
	})
	return &Snapshot{RankByItem: ranks, Ordered: ordered}
}

// MemoryStore is an in-process Store. Every write publishes a new snapshot,
// so readers only ever load a pointer and never take the write lock.
type MemoryStore struct {
	writeMu sync.Mutex

	mu   sync.RWMutex
	tags map[string]*atomic.Pointer[Snapshot]
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tags: make(map[string]*atomic.Pointer[Snapshot])}
}

func (s *MemoryStore) slot(tag string, create bool) *atomic.Pointer[Snapshot] {
	s.mu.RLock()
	p := s.tags[tag]
	s.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p = s.tags[tag]; p == nil {
		p = &atomic.Pointer[Snapshot]{}
		p.Store(emptySnapshot)
		s.tags[tag] = p
	}
	return p
}

// Snapshot returns the current snapshot for tag.
func (s *MemoryStore) Snapshot(tag string) *Snapshot {
	if p := s.slot(tag, false); p != nil {
		return p.Load()
	}
	return emptySnapshot
}

// ClearAll implements Store.
func (s *MemoryStore) ClearAll(_ context.Context, tag string) (err error) {
	defer observe("clear_all", time.Now(), &err)
	if p := s.slot(tag, false); p != nil {
		s.writeMu.Lock()
		p.Store(emptySnapshot)
		s.writeMu.Unlock()
	}
	return nil
}

// SetRank implements Store.
func (s *MemoryStore) SetRank(_ context.Context, itemID string, rank int, tag string) (err error) {
	defer observe("set_rank", time.Now(), &err)
	if rank < 1 {
		return ErrInvalidRank
	}
	p := s.slot(tag, true)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	cur := p.Load()
	ranks := make(map[string]int, len(cur.RankByItem)+1)
	for id, r := range cur.RankByItem {
		ranks[id] = r
	}
	ranks[itemID] = rank
	p.Store(newSnapshot(ranks))
	return nil
}

// GetRank implements Store.
func (s *MemoryStore) GetRank(_ context.Context, itemID, tag string) (_ int, err error) {
	defer observe("get_rank", time.Now(), &err)
	r, ok := s.Snapshot(tag).RankByItem[itemID]
	if !ok {
		return 0, ErrNotFound
	}
	return r, nil
}

// ListByRank implements Store.
func (s *MemoryStore) ListByRank(_ context.Context, tag string, limit int, order Order) (_ []string, err error) {
	defer observe("list_by_rank", time.Now(), &err)
	ordered := s.Snapshot(tag).Ordered
	out := make([]string, window(len(ordered), limit))
	for i := range out {
		out[i] = ordered[position(len(ordered), i, order)]
	}
	return out, nil
}

// ListRanked implements Store.
func (s *MemoryStore) ListRanked(_ context.Context, tag string, limit int, order Order) (_ []model.RankedItem, err error) {
	defer observe("list_ranked", time.Now(), &err)
	snap := s.Snapshot(tag)
	out := make([]model.RankedItem, window(len(snap.Ordered), limit))
	for i := range out {
		id := snap.Ordered[position(len(snap.Ordered), i, order)]
		out[i] = model.RankedItem{ItemID: id, Rank: snap.RankByItem[id]}
	}
	return out, nil
}

func window(n, limit int) int {
	if limit > 0 && limit < n {
		return limit
	}
	return n
}

func position(n, i int, order Order) int {
	if order == Desc {
		return n - 1 - i
	}
	return i
}

// Replace implements Store.
func (s *MemoryStore) Replace(_ context.Context, tag string, items []model.RankedItem) (err error) {
	defer observe("replace", time.Now(), &err)
	ranks := make(map[string]int, len(items))
	for _, it := range items {
		if it.Rank < 1 {
			return ErrInvalidRank
		}
		ranks[it.ItemID] = it.Rank
	}
	next := newSnapshot(ranks)

	p := s.slot(tag, true)
	s.writeMu.Lock()
	p.Store(next)
	s.writeMu.Unlock()
	return nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context, tag string) (int, error) {
	return len(s.Snapshot(tag).Ordered), nil
}
