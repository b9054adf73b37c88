package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/startsit/internal/adapters/mq/worker"
	"github.com/okian/startsit/internal/config"
	"github.com/okian/startsit/internal/domain/grading"
	"github.com/okian/startsit/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Backend, convey.ShouldEqual, config.BackendMemory)
			convey.So(cfg.QueueCapacity, convey.ShouldEqual, 10_000)
			convey.So(cfg.ResultTTL(), convey.ShouldEqual, 24*time.Hour)
			convey.So(cfg.StaleAfter(), convey.ShouldEqual, 10*time.Minute)
			convey.So(cfg.TaskTimeout(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.FetchTimeout(), convey.ShouldEqual, 2*time.Second)
			convey.So(cfg.MaxRetries, convey.ShouldEqual, 3)
			convey.So(cfg.BackoffBase(), convey.ShouldEqual, 500*time.Millisecond)
			convey.So(cfg.DrainTimeout(), convey.ShouldEqual, 10*time.Second)
			convey.So(len(cfg.WorkerGroups), convey.ShouldEqual, 2)
			convey.So(cfg.Scoring, convey.ShouldResemble, grading.DefaultConfig())
		})

		convey.Convey("Then it should validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then routes map both categories", func() {
			routes, err := cfg.Routes()
			convey.So(err, convey.ShouldBeNil)
			convey.So(routes[model.CategoryMatchup], convey.ShouldEqual, "matchups")
			convey.So(routes[model.CategoryComparison], convey.ShouldEqual, "analysis")
		})

		convey.Convey("Then the season start parses as a UTC date", func() {
			start, err := cfg.SeasonStartTime()
			convey.So(err, convey.ShouldBeNil)
			convey.So(start, convey.ShouldEqual, time.Date(2025, time.September, 4, 0, 0, 0, 0, time.UTC))
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		cases := []struct {
			name   string
			mutate func()
		}{
			{"empty addr", func() { cfg.Addr = "" }},
			{"unknown backend", func() { cfg.Backend = "etcd" }},
			{"redis without addr", func() { cfg.Backend = config.BackendRedis; cfg.RedisAddr = "" }},
			{"zero queue capacity", func() { cfg.QueueCapacity = 0 }},
			{"zero result ttl", func() { cfg.ResultTTLSeconds = 0 }},
			{"zero task timeout", func() { cfg.TaskTimeoutMS = 0 }},
			{"stale window inside the task timeout", func() { cfg.StaleAfterSeconds = 30 }},
			{"negative retries", func() { cfg.MaxRetries = -1 }},
			{"backoff max below base", func() { cfg.BackoffMaxMS = cfg.BackoffBaseMS - 1 }},
			{"unparseable season", func() { cfg.SeasonStart = "09/04/2025" }},
			{"negative provider rps", func() { cfg.ProviderRPS = -1 }},
			{"unknown category", func() { cfg.CategoryQueues["trade"] = "analysis" }},
			{"empty category queue", func() { cfg.CategoryQueues["matchup"] = " " }},
			{"no worker groups", func() { cfg.WorkerGroups = nil }},
			{"worker group sans queue", func() { cfg.WorkerGroups[0].Queues = nil }},
			{"category routed to an unserved queue", func() { cfg.CategoryQueues["comparison"] = "heavy" }},
			{"inverted thresholds", func() { cfg.Scoring.Thresholds.Start = 30 }},
			{"unsorted grades", func() { cfg.Scoring.Grades[0].Min = 10 }},
		}
		convey.Convey("When a category is routed to a queue a worker group serves", func() {
			cfg.CategoryQueues["comparison"] = "heavy"
			cfg.WorkerGroups = append(cfg.WorkerGroups, worker.Group{Name: "heavy", Queues: []string{"heavy"}, Count: 1})

			convey.Convey("Then validation passes", func() {
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})

		for _, tc := range cases {
			convey.Convey("When the config has "+tc.name, func() {
				tc.mutate()
				err := cfg.Validate()

				convey.Convey("Then validation fails", func() {
					convey.So(err, convey.ShouldNotBeNil)
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}
	})
}
