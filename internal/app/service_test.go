package service_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/popstats/internal/adapters/cache"
	"github.com/okian/popstats/internal/adapters/repository"
	service "github.com/okian/popstats/internal/app"
	"github.com/okian/popstats/internal/config"
	"github.com/okian/popstats/internal/domain/eligibility"
	"github.com/okian/popstats/internal/domain/model"
	"github.com/okian/popstats/internal/domain/refresh"
)

type staticSource struct {
	entries []model.PopularityEntry
	calls   atomic.Int64
}

func (s *staticSource) Fetch(context.Context, model.FetchParams) ([]model.PopularityEntry, error) {
	s.calls.Add(1)
	return s.entries, nil
}

func newService(opts ...service.Option) (*service.Service, *staticSource, func()) {
	return newServiceOn(repository.NewMemoryStore(), opts...)
}

func newServiceOn(store repository.Store, opts ...service.Option) (*service.Service, *staticSource, func()) {
	src := &staticSource{entries: []model.PopularityEntry{
		{ItemID: "10", Views: 90}, {ItemID: "11", Views: 80}, {ItemID: "12", Views: 70},
	}}
	c := cache.NewMemoryCache(10)
	filter := eligibility.NewKindFilter(eligibility.Static("post"))
	coord := refresh.New(src, filter, c, store)
	svc := service.New(coord, store, append(opts, service.WithCloser(func() error { c.Close(); return nil }))...)
	return svc, src, svc.Stop
}

func TestService_Reads(t *testing.T) {
	Convey("Given a service after one refresh", t, func() {
		ctx := context.Background()
		svc, src, stop := newService()
		defer stop()

		So(svc.Start(ctx), ShouldBeNil)
		resp, err := svc.MaybeRefresh(ctx)
		So(err, ShouldBeNil)
		So(resp.Refreshed, ShouldBeTrue)

		Convey("Then Popular lists entries with their ranks", func() {
			entries, err := svc.Popular(ctx, "", 2, repository.Asc)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 2)
			So(entries[0].ItemID, ShouldEqual, "10")
			So(entries[0].Rank, ShouldEqual, 1)
			So(entries[1].Rank, ShouldEqual, 2)
		})

		Convey("Then descending order starts from the last rank", func() {
			entries, err := svc.Popular(ctx, "", 0, repository.Desc)
			So(err, ShouldBeNil)
			So(entries[0].ItemID, ShouldEqual, "12")
			So(entries[0].Rank, ShouldEqual, 3)
		})

		Convey("Then Rank resolves a single item", func() {
			r, err := svc.Rank(ctx, "", "11")
			So(err, ShouldBeNil)
			So(r.Rank, ShouldEqual, 2)
			So(r.Tag, ShouldEqual, refresh.DefaultTag)

			_, err = svc.Rank(ctx, "", "99")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Then a second trigger is served from the cache", func() {
			resp, err := svc.MaybeRefresh(ctx)
			So(err, ShouldBeNil)
			So(resp.Skipped, ShouldEqual, refresh.SkipCacheHit)
			So(src.calls.Load(), ShouldEqual, 1)
		})

		Convey("Then a forced refresh calls the provider again", func() {
			resp, err := svc.Refresh(ctx)
			So(err, ShouldBeNil)
			So(resp.Refreshed, ShouldBeTrue)
			So(src.calls.Load(), ShouldEqual, 2)
		})

		Convey("Then stats describe the service", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["tag"], ShouldEqual, refresh.DefaultTag)
			So(stats["rankedItems"], ShouldEqual, 3)
			So(stats["lastCycle"], ShouldNotBeNil)
		})
	})
}

// driftingStore answers the per-item reads from a ranking that has since
// been replaced, the way a concurrent commit would leave them.
type driftingStore struct {
	repository.Store
	listRanked atomic.Int64
}

func (d *driftingStore) ListRanked(ctx context.Context, tag string, limit int, order repository.Order) ([]model.RankedItem, error) {
	d.listRanked.Add(1)
	return d.Store.ListRanked(ctx, tag, limit, order)
}

func (d *driftingStore) ListByRank(ctx context.Context, tag string, limit int, order repository.Order) ([]string, error) {
	ids, err := d.Store.ListByRank(ctx, tag, limit, order)
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, err
}

func (d *driftingStore) GetRank(ctx context.Context, itemID, tag string) (int, error) {
	r, err := d.Store.GetRank(ctx, itemID, tag)
	return r + 100, err
}

func TestService_PopularReadsOneVersion(t *testing.T) {
	Convey("Given a store whose single item reads disagree with its listing", t, func() {
		ctx := context.Background()
		store := &driftingStore{Store: repository.NewMemoryStore()}
		svc, _, stop := newServiceOn(store)
		defer stop()
		_, err := svc.MaybeRefresh(ctx)
		So(err, ShouldBeNil)

		Convey("Then Popular pairs ids and ranks from one listing", func() {
			entries, err := svc.Popular(ctx, "", 0, repository.Asc)
			So(err, ShouldBeNil)
			So(store.listRanked.Load(), ShouldEqual, 1)
			So(len(entries), ShouldEqual, 3)
			for i, want := range []string{"10", "11", "12"} {
				So(entries[i].ItemID, ShouldEqual, want)
				So(entries[i].Rank, ShouldEqual, i+1)
			}
		})
	})
}

func TestService_SetContentKind(t *testing.T) {
	Convey("Given a service without a catalog", t, func() {
		svc, _, stop := newService()
		defer stop()

		Convey("Then recording a kind reports the missing catalog", func() {
			err := svc.SetContentKind(context.Background(), "10", "post")
			So(errors.Is(err, repository.ErrNoCatalog), ShouldBeTrue)
		})
	})

	Convey("Given a service with a SQLite catalog", t, func() {
		ctx := context.Background()
		store, err := repository.OpenSQL(ctx, repository.DialectSQLite, filepath.Join(t.TempDir(), "c.db"))
		So(err, ShouldBeNil)
		defer store.Close()
		svc, _, stop := newServiceOn(store, service.WithCatalog(store))
		defer stop()

		Convey("Then empty arguments are rejected", func() {
			So(errors.Is(svc.SetContentKind(ctx, "", "post"), service.ErrBadKind), ShouldBeTrue)
			So(errors.Is(svc.SetContentKind(ctx, "10", ""), service.ErrBadKind), ShouldBeTrue)
		})

		Convey("Then a recorded kind is visible to the catalog", func() {
			So(svc.SetContentKind(ctx, "10", "video"), ShouldBeNil)
			kind, ok, err := store.Kind(ctx, "10")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(kind, ShouldEqual, "video")
			So(svc.GetStats()["catalog"], ShouldEqual, true)
		})
	})
}

func TestService_Schedule(t *testing.T) {
	Convey("Given a service with an invalid schedule", t, func() {
		svc, _, stop := newService(service.WithSchedule("every now and then"))
		defer stop()

		Convey("Then Start should fail", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, service.ErrSchedule), ShouldBeTrue)
		})
	})

	Convey("Given a service refreshing every second", t, func() {
		svc, src, stop := newService(service.WithSchedule("@every 1s"))
		defer stop()
		So(svc.Start(context.Background()), ShouldBeNil)

		Convey("Then the provider is called without any request", func() {
			deadline := time.Now().Add(3 * time.Second)
			for src.calls.Load() == 0 && time.Now().Before(deadline) {
				time.Sleep(50 * time.Millisecond)
			}
			So(src.calls.Load(), ShouldBeGreaterThan, 0)
		})
	})
}

func TestNewFromConfig(t *testing.T) {
	Convey("Given a config with a CSV provider, a SQLite store and a policy file", t, func() {
		ctx := context.Background()
		provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("post_id,views\n1,30\n2,20\n3,10\n"))
		}))
		defer provider.Close()

		dir := t.TempDir()
		policyPath := filepath.Join(dir, "policy.yaml")
		So(os.WriteFile(policyPath, []byte("exclude: [\"2\"]\nlimit: 10\n"), 0o600), ShouldBeNil)

		cfg := config.New()
		cfg.StatsProvider = config.ProviderCSV
		cfg.StatsEndpoint = provider.URL
		cfg.StatsMinInterval = time.Millisecond
		cfg.StoreDriver = config.DriverSQLite
		cfg.StoreDSN = filepath.Join(dir, "ranks.db")
		cfg.PolicyFile = policyPath
		So(cfg.Validate(), ShouldBeNil)

		svc, err := service.NewFromConfig(ctx, cfg, nil)
		So(err, ShouldBeNil)
		defer svc.Stop()
		So(svc.Start(ctx), ShouldBeNil)
		for _, id := range []string{"1", "2", "3"} {
			So(svc.SetContentKind(ctx, id, "post"), ShouldBeNil)
		}

		Convey("When a trigger runs", func() {
			resp, err := svc.MaybeRefresh(ctx)

			Convey("Then the policy exclusion applies to the persisted ranking", func() {
				So(err, ShouldBeNil)
				So(resp.Fetched, ShouldEqual, 3)
				So(resp.Ranked, ShouldEqual, 2)

				entries, err := svc.Popular(ctx, "", 0, repository.Asc)
				So(err, ShouldBeNil)
				So(len(entries), ShouldEqual, 2)
				So(entries[0].ItemID, ShouldEqual, "1")
				So(entries[1].ItemID, ShouldEqual, "3")
				So(entries[1].Rank, ShouldEqual, 2)
			})
		})
	})

	Convey("Given a SQLite catalog that does not know every fed id", t, func() {
		ctx := context.Background()
		provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("post_id,views\n1,80\n999,50\n"))
		}))
		defer provider.Close()

		cfg := config.New()
		cfg.StatsProvider = config.ProviderCSV
		cfg.StatsEndpoint = provider.URL
		cfg.StatsMinInterval = time.Millisecond
		cfg.StoreDriver = config.DriverSQLite
		cfg.StoreDSN = filepath.Join(t.TempDir(), "ranks.db")
		So(cfg.DefaultKind, ShouldEqual, "post")
		So(cfg.Validate(), ShouldBeNil)

		svc, err := service.NewFromConfig(ctx, cfg, nil)
		So(err, ShouldBeNil)
		defer svc.Stop()
		So(svc.SetContentKind(ctx, "1", "post"), ShouldBeNil)

		Convey("When a trigger runs", func() {
			resp, err := svc.MaybeRefresh(ctx)
			So(err, ShouldBeNil)

			Convey("Then the unknown id is not ranked despite the default kind", func() {
				So(resp.Fetched, ShouldEqual, 2)
				So(resp.Ranked, ShouldEqual, 1)
				_, err := svc.Rank(ctx, "", "999")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				r, err := svc.Rank(ctx, "", "1")
				So(err, ShouldBeNil)
				So(r.Rank, ShouldEqual, 1)
			})
		})
	})

	Convey("Given a memory store and a policy listing kinds", t, func() {
		ctx := context.Background()
		provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("post_id,views\n1,80\n999,50\n"))
		}))
		defer provider.Close()

		policyPath := filepath.Join(t.TempDir(), "policy.yaml")
		So(os.WriteFile(policyPath, []byte("kinds:\n  \"1\": post\n"), 0o600), ShouldBeNil)

		cfg := config.New()
		cfg.StatsProvider = config.ProviderCSV
		cfg.StatsEndpoint = provider.URL
		cfg.StatsMinInterval = time.Millisecond
		cfg.PolicyFile = policyPath
		So(cfg.Validate(), ShouldBeNil)

		svc, err := service.NewFromConfig(ctx, cfg, nil)
		So(err, ShouldBeNil)
		defer svc.Stop()

		Convey("Then only the ids the policy names are ranked", func() {
			resp, err := svc.MaybeRefresh(ctx)
			So(err, ShouldBeNil)
			So(resp.Ranked, ShouldEqual, 1)
			_, err = svc.Rank(ctx, "", "999")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})

	Convey("Given a config without a provider", t, func() {
		ctx := context.Background()
		svc, err := service.NewFromConfig(ctx, config.New(), nil)
		So(err, ShouldBeNil)
		defer svc.Stop()

		Convey("Then triggers report the provider as unavailable", func() {
			resp, err := svc.MaybeRefresh(ctx)
			So(err, ShouldBeNil)
			So(resp.Skipped, ShouldEqual, refresh.SkipProviderUnavailable)
		})
	})

	Convey("Given a config with a missing policy file", t, func() {
		cfg := config.New()
		cfg.PolicyFile = filepath.Join(t.TempDir(), "absent.yaml")

		Convey("Then wiring should fail", func() {
			_, err := service.NewFromConfig(context.Background(), cfg, nil)
			So(errors.Is(err, service.ErrWiring), ShouldBeTrue)
		})
	})
}
