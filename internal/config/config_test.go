package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/popstats/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Tag, convey.ShouldEqual, "be_stats")
			convey.So(cfg.LookbackDays, convey.ShouldEqual, 30)
			convey.So(cfg.Limit, convey.ShouldEqual, 100)
			convey.So(cfg.RefreshTimeout, convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.EligibleKinds, convey.ShouldResemble, []string{"post"})
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
			convey.So(cfg.CacheDriver, convey.ShouldEqual, config.DriverMemory)
			convey.So(cfg.LockDriver, convey.ShouldEqual, config.DriverLocal)
			convey.So(cfg.StatsProvider, convey.ShouldBeEmpty)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
			convey.So(cfg.UsesRedis(), convey.ShouldBeFalse)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with invalid values", t, func() {
		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"empty tag", func(c *config.Config) { c.Tag = "" }},
			{"zero lookback", func(c *config.Config) { c.LookbackDays = 0 }},
			{"zero limit", func(c *config.Config) { c.Limit = 0 }},
			{"unknown provider", func(c *config.Config) { c.StatsProvider = "ga4" }},
			{"provider without endpoint", func(c *config.Config) { c.StatsProvider = config.ProviderCSV }},
			{"sqlite without dsn", func(c *config.Config) { c.StoreDriver = config.DriverSQLite }},
			{"unknown store", func(c *config.Config) { c.StoreDriver = "mysql" }},
			{"unknown cache", func(c *config.Config) { c.CacheDriver = "disk" }},
			{"unknown lock", func(c *config.Config) { c.LockDriver = "etcd" }},
			{"zero max list limit", func(c *config.Config) { c.MaxListLimit = 0 }},
		}

		for _, tc := range cases {
			convey.Convey("When the config has "+tc.name, func() {
				cfg := config.New()
				tc.mutate(cfg)
				err := cfg.Validate()

				convey.Convey("Then validation should fail with ErrInvalidConfig", func() {
					convey.So(err, convey.ShouldNotBeNil)
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}
	})

	convey.Convey("Given a config using redis for locking only", t, func() {
		cfg := config.New()
		cfg.LockDriver = config.DriverRedis

		convey.Convey("Then it should report a redis dependency", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
			convey.So(cfg.UsesRedis(), convey.ShouldBeTrue)
		})
	})
}
