package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/popstats/internal/adapters/cache"
	"github.com/okian/popstats/internal/adapters/lock"
	"github.com/okian/popstats/internal/adapters/repository"
	"github.com/okian/popstats/internal/adapters/stats"
	"github.com/okian/popstats/internal/domain/eligibility"
	"github.com/okian/popstats/internal/domain/model"
	"github.com/okian/popstats/internal/domain/policy"
)

// fakeSource returns a configurable response and counts calls.
type fakeSource struct {
	mu      sync.Mutex
	entries []model.PopularityEntry
	err     error
	delay   time.Duration
	calls   atomic.Int64
	params  []model.FetchParams
}

func (f *fakeSource) set(err error, entries ...model.PopularityEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries, f.err = entries, err
}

func (f *fakeSource) Fetch(_ context.Context, p model.FetchParams) ([]model.PopularityEntry, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	return append([]model.PopularityEntry(nil), f.entries...), f.err
}

var errReset = errors.New("connection reset")

// flakyStore fails Replace a number of times before delegating.
type flakyStore struct {
	repository.Store
	failures atomic.Int64
	replaces atomic.Int64
}

func (s *flakyStore) Replace(ctx context.Context, tag string, items []model.RankedItem) error {
	s.replaces.Add(1)
	if s.failures.Add(-1) >= 0 {
		return errReset
	}
	return s.Store.Replace(ctx, tag, items)
}

func e(id string, views int64) model.PopularityEntry {
	return model.PopularityEntry{ItemID: id, Views: views}
}

type fixture struct {
	source *fakeSource
	store  *repository.MemoryStore
	cache  *cache.MemoryCache
	kinds  *eligibility.MapResolver
	coord  *Coordinator
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		source: &fakeSource{},
		store:  repository.NewMemoryStore(),
		cache:  cache.NewMemoryCache(10),
		kinds: eligibility.NewMapResolver(map[string]string{
			"A": "post", "B": "post", "C": "page", "D": "post", "E": "post",
		}),
	}
	f.coord = New(f.source, eligibility.NewKindFilter(f.kinds), f.cache, f.store, opts...)
	return f
}

func (f *fixture) list() []string {
	ids, err := f.store.ListByRank(context.Background(), DefaultTag, 0, repository.Asc)
	So(err, ShouldBeNil)
	return ids
}

func (f *fixture) rank(id string) int {
	r, err := f.store.GetRank(context.Background(), id, DefaultTag)
	if errors.Is(err, repository.ErrNotFound) {
		return 0
	}
	So(err, ShouldBeNil)
	return r
}

func TestMaybeRefresh(t *testing.T) {
	ctx := context.Background()

	Convey("Given a provider reporting B, A, C in popularity order", t, func() {
		f := newFixture()
		defer f.cache.Close()
		f.source.set(nil, e("B", 80), e("A", 50), e("C", 10))

		Convey("When a trigger runs", func() {
			res, err := f.coord.MaybeRefresh(ctx)

			Convey("Then eligible items are ranked densely in popularity order", func() {
				So(err, ShouldBeNil)
				So(res.Refreshed, ShouldBeTrue)
				So(res.CycleID, ShouldNotBeEmpty)
				So(res.Fetched, ShouldEqual, 3)
				So(res.Ranked, ShouldEqual, 2)
				So(f.rank("B"), ShouldEqual, 1)
				So(f.rank("A"), ShouldEqual, 2)
				So(f.rank("C"), ShouldEqual, 0)
				So(f.list(), ShouldResemble, []string{"B", "A"})
			})

			Convey("Then the cache holds every fetched id", func() {
				entry, ok, err := f.cache.Get(ctx, DefaultTag)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(entry.ItemIDs, ShouldResemble, []string{"B", "A", "C"})
				So(entry.CycleID, ShouldEqual, res.CycleID)
			})

			Convey("Then the default fetch parameters were used", func() {
				So(f.source.params, ShouldResemble, []model.FetchParams{model.DefaultFetchParams()})
			})

			Convey("Then the last result is remembered", func() {
				last, ok := f.coord.Last()
				So(ok, ShouldBeTrue)
				So(last, ShouldResemble, res)
			})
		})

		Convey("When two triggers run within the ttl", func() {
			first, err1 := f.coord.MaybeRefresh(ctx)
			second, err2 := f.coord.MaybeRefresh(ctx)

			Convey("Then the provider is called once", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(f.source.calls.Load(), ShouldEqual, 1)
				So(second.Refreshed, ShouldBeFalse)
				So(second.Skipped, ShouldEqual, SkipCacheHit)
				So(second.CycleID, ShouldEqual, first.CycleID)
			})
		})

		Convey("When the same result is fetched twice with the ttl bypassed", func() {
			_, err := f.coord.MaybeRefresh(ctx)
			So(err, ShouldBeNil)
			before := f.list()

			res, err := f.coord.Refresh(ctx)

			Convey("Then the mapping is identical", func() {
				So(err, ShouldBeNil)
				So(res.Refreshed, ShouldBeTrue)
				So(f.source.calls.Load(), ShouldEqual, 2)
				So(f.list(), ShouldResemble, before)
				So(f.rank("B"), ShouldEqual, 1)
				So(f.rank("A"), ShouldEqual, 2)
			})
		})

		Convey("When the next cycle no longer reports A", func() {
			_, err := f.coord.MaybeRefresh(ctx)
			So(err, ShouldBeNil)

			f.source.set(nil, e("D", 90), e("B", 70))
			_, err = f.coord.Refresh(ctx)

			Convey("Then A is gone and the rest is re-ranked", func() {
				So(err, ShouldBeNil)
				So(f.rank("A"), ShouldEqual, 0)
				So(f.list(), ShouldResemble, []string{"D", "B"})
			})
		})

		Convey("When the next cycle fetches nothing", func() {
			_, err := f.coord.MaybeRefresh(ctx)
			So(err, ShouldBeNil)

			f.source.set(nil)
			res, err := f.coord.Refresh(ctx)

			Convey("Then every prior entry is removed", func() {
				So(err, ShouldBeNil)
				So(res.Refreshed, ShouldBeTrue)
				So(res.Fetched, ShouldEqual, 0)
				So(f.list(), ShouldBeEmpty)
			})
		})
	})

	Convey("Given a ranking from an earlier cycle", t, func() {
		f := newFixture()
		defer f.cache.Close()
		f.source.set(nil, e("A", 5), e("B", 4))
		_, err := f.coord.MaybeRefresh(ctx)
		So(err, ShouldBeNil)

		Convey("When the provider becomes unavailable", func() {
			f.source.set(stats.ErrProviderUnavailable)
			res, err := f.coord.Refresh(ctx)

			Convey("Then the trigger succeeds and the prior ranking stays", func() {
				So(err, ShouldBeNil)
				So(res.Refreshed, ShouldBeFalse)
				So(res.Skipped, ShouldEqual, SkipProviderUnavailable)
				So(f.list(), ShouldResemble, []string{"A", "B"})
			})

			Convey("Then nothing is cached and the next trigger asks again", func() {
				_, ok, _ := f.cache.Get(ctx, DefaultTag)
				So(ok, ShouldBeFalse)

				_, err := f.coord.MaybeRefresh(ctx)
				So(err, ShouldBeNil)
				So(f.source.calls.Load(), ShouldEqual, 3)
			})
		})

		Convey("When the provider answers with garbage", func() {
			f.source.set(errors.New("unexpected EOF"))
			res, err := f.coord.Refresh(ctx)

			Convey("Then it is treated as a provider error", func() {
				So(err, ShouldBeNil)
				So(res.Skipped, ShouldEqual, SkipProviderError)
				So(f.list(), ShouldResemble, []string{"A", "B"})
			})
		})
	})

	Convey("Given provider output with blanks and repeats", t, func() {
		f := newFixture()
		defer f.cache.Close()
		f.source.set(nil, e("", 99), e("A", 50), e("B", 40), e("A", 30), e("D", 20))

		res, err := f.coord.MaybeRefresh(ctx)

		Convey("Then the first occurrence wins and blanks are dropped", func() {
			So(err, ShouldBeNil)
			So(res.Fetched, ShouldEqual, 3)
			So(f.list(), ShouldResemble, []string{"A", "B", "D"})
			So(f.rank("D"), ShouldEqual, 3)
		})
	})
}

func TestHooks(t *testing.T) {
	ctx := context.Background()

	Convey("Given an override and a params hook", t, func() {
		var calls []string
		override := func(def bool, id string) bool {
			calls = append(calls, id)
			if id == "C" {
				return true
			}
			if id == "A" {
				return false
			}
			return def
		}
		f := newFixture(
			WithOverride(override),
			WithParamsHook(policy.Defaults(7, 2)),
		)
		defer f.cache.Close()
		f.source.set(nil, e("A", 9), e("B", 8), e("C", 7))

		_, err := f.coord.MaybeRefresh(ctx)

		Convey("Then the override decides once per candidate", func() {
			So(err, ShouldBeNil)
			So(calls, ShouldResemble, []string{"A", "B", "C"})
			So(f.list(), ShouldResemble, []string{"B", "C"})
		})

		Convey("Then the hook's parameters reach the provider", func() {
			So(f.source.params[0], ShouldResemble, model.FetchParams{LookbackDays: 7, Limit: 2})
		})
	})
}

func TestConcurrentTriggers(t *testing.T) {
	Convey("Given a slow provider", t, func() {
		f := newFixture()
		defer f.cache.Close()
		f.source.delay = 30 * time.Millisecond
		f.source.set(nil, e("A", 2), e("B", 1))

		Convey("When many triggers arrive at once", func() {
			var wg sync.WaitGroup
			var failures atomic.Int64
			for i := 0; i < 12; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := f.coord.MaybeRefresh(context.Background()); err != nil {
						failures.Add(1)
					}
				}()
			}
			wg.Wait()

			Convey("Then the provider is called once", func() {
				So(failures.Load(), ShouldEqual, 0)
				So(f.source.calls.Load(), ShouldEqual, 1)
				So(f.list(), ShouldResemble, []string{"A", "B"})
			})
		})

		Convey("When a trigger cannot get the guard in time", func() {
			l := lock.NewLocalLocker()
			release, err := l.Acquire(context.Background(), DefaultTag)
			So(err, ShouldBeNil)
			defer release()

			co := New(f.source, eligibility.NewKindFilter(f.kinds), f.cache, f.store, WithLocker(l))
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err = co.MaybeRefresh(ctx)

			Convey("Then it reports the timeout without fetching", func() {
				So(errors.Is(err, lock.ErrLockTimeout), ShouldBeTrue)
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				So(f.source.calls.Load(), ShouldEqual, 0)
			})
		})
	})
}

func TestStoreFailures(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store that fails transiently", t, func() {
		store := &flakyStore{Store: repository.NewMemoryStore()}
		store.failures.Store(2)
		src := &fakeSource{}
		src.set(nil, e("A", 1))
		c := cache.NewMemoryCache(10)
		defer c.Close()
		filter := eligibility.NewKindFilter(eligibility.NewMapResolver(map[string]string{"A": "post"}))

		Convey("When retries cover the failures", func() {
			co := New(src, filter, c, store, WithStoreRetry(3, time.Millisecond))
			res, err := co.MaybeRefresh(ctx)

			Convey("Then the commit eventually succeeds", func() {
				So(err, ShouldBeNil)
				So(res.Refreshed, ShouldBeTrue)
				So(store.replaces.Load(), ShouldEqual, 3)
			})
		})

		Convey("When retries run out", func() {
			co := New(src, filter, c, store, WithStoreRetry(2, time.Millisecond))
			res, err := co.MaybeRefresh(ctx)

			Convey("Then the store error is surfaced and nothing is cached", func() {
				So(errors.Is(err, repository.ErrStore), ShouldBeTrue)
				So(errors.Is(err, errReset), ShouldBeTrue)
				So(res.Refreshed, ShouldBeFalse)
				So(store.replaces.Load(), ShouldEqual, 2)
				_, ok, _ := c.Get(ctx, DefaultTag)
				So(ok, ShouldBeFalse)
			})

			Convey("Then the next trigger tries again", func() {
				_, err := co.MaybeRefresh(ctx)
				So(err, ShouldBeNil)
				So(src.calls.Load(), ShouldEqual, 2)
			})
		})
	})
}

func TestCommitDeadline(t *testing.T) {
	Convey("Given a store that keeps failing and a short deadline", t, func() {
		store := &flakyStore{Store: repository.NewMemoryStore()}
		store.failures.Store(100)
		src := &fakeSource{}
		src.set(nil, e("A", 1))
		c := cache.NewMemoryCache(10)
		defer c.Close()
		filter := eligibility.NewKindFilter(eligibility.NewMapResolver(map[string]string{"A": "post"}))
		co := New(src, filter, c, store, WithStoreRetry(5, 50*time.Millisecond))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := co.MaybeRefresh(ctx)

		Convey("Then the error is both a store failure and a deadline", func() {
			So(errors.Is(err, repository.ErrStore), ShouldBeTrue)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			So(store.replaces.Load(), ShouldEqual, 1)
		})
	})
}

func TestDefaults(t *testing.T) {
	Convey("Given a coordinator without a source or filter", t, func() {
		c := cache.NewMemoryCache(10)
		defer c.Close()
		co := New(nil, nil, c, repository.NewMemoryStore(), WithTag("weekly"), WithTTL(time.Hour))

		Convey("Then it exposes its settings", func() {
			So(co.Tag(), ShouldEqual, "weekly")
			So(co.TTL(), ShouldEqual, time.Hour)
			_, ok := co.Last()
			So(ok, ShouldBeFalse)
		})

		Convey("Then triggers report the provider as unavailable", func() {
			res, err := co.MaybeRefresh(context.Background())
			So(err, ShouldBeNil)
			So(res.Skipped, ShouldEqual, SkipProviderUnavailable)
		})
	})
}
