package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/startsit/internal/config"
	"github.com/okian/startsit/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("STARTSIT_ADDR", ":8080")
			_ = os.Setenv("STARTSIT_QUEUE_CAPACITY", "500")
			_ = os.Setenv("STARTSIT_RESULT_TTL_SECONDS", "60")
			_ = os.Setenv("STARTSIT_MAX_RETRIES", "5")
			_ = os.Setenv("STARTSIT_BACKEND", "redis")
			_ = os.Setenv("STARTSIT_REDIS_ADDR", "redis:6379")
			_ = os.Setenv("STARTSIT_PROVIDER_RPS", "12.5")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueCapacity, convey.ShouldEqual, 500)
				convey.So(cfg.ResultTTL(), convey.ShouldEqual, time.Minute)
				convey.So(cfg.MaxRetries, convey.ShouldEqual, 5)
				convey.So(cfg.Backend, convey.ShouldEqual, config.BackendRedis)
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "redis:6379")
				convey.So(cfg.ProviderRPS, convey.ShouldEqual, 12.5)
			})
		})

		convey.Convey("When a nested key is set through the environment", func() {
			_ = os.Setenv("STARTSIT_SCORING__THRESHOLDS__START", "75")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then only that key changes", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Scoring.Thresholds.Start, convey.ShouldEqual, 75)
				convey.So(cfg.Scoring.Thresholds.Consider, convey.ShouldEqual, 40)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
backend: memory
task_timeout_ms: 5000
season: 2024
season_start: "2024-09-05"
category_queues:
  comparison: matchups
worker_groups:
  - name: all
    queues: [matchups]
    count: 3
scoring:
  default_weights:
    matchup: 2
  weights:
    QB:
      weather: 3
  grades:
    - letter: PASS
      min: 50
    - letter: FAIL
      min: 0
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("STARTSIT_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.TaskTimeout(), convey.ShouldEqual, 5*time.Second)
				convey.So(cfg.Season, convey.ShouldEqual, 2024)
				start, err := cfg.SeasonStartTime()
				convey.So(err, convey.ShouldBeNil)
				convey.So(start.Day(), convey.ShouldEqual, 5)
			})

			convey.Convey("Then maps merge into the defaults", func() {
				routes, err := cfg.Routes()
				convey.So(err, convey.ShouldBeNil)
				convey.So(routes[model.CategoryComparison], convey.ShouldEqual, "matchups")
				convey.So(routes[model.CategoryMatchup], convey.ShouldEqual, "matchups")
				convey.So(cfg.Scoring.DefaultWeights[model.ComponentMatchup], convey.ShouldEqual, 2)
				convey.So(cfg.Scoring.DefaultWeights[model.ComponentInjury], convey.ShouldEqual, 1)
				convey.So(cfg.Scoring.Weights[model.PositionQB][model.ComponentWeather], convey.ShouldEqual, 3)
			})

			convey.Convey("Then lists replace the defaults", func() {
				convey.So(len(cfg.WorkerGroups), convey.ShouldEqual, 1)
				convey.So(cfg.WorkerGroups[0].Name, convey.ShouldEqual, "all")
				convey.So(cfg.WorkerGroups[0].Count, convey.ShouldEqual, 3)
				convey.So(len(cfg.Scoring.Grades), convey.ShouldEqual, 2)
				convey.So(cfg.Scoring.Grades[0].Letter, convey.ShouldEqual, "PASS")
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
max_retries: 1
fetch_timeout_ms: 900
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("STARTSIT_CONFIG", tmpFile)
			_ = os.Setenv("STARTSIT_ADDR", ":8080")
			_ = os.Setenv("STARTSIT_MAX_RETRIES", "4")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.MaxRetries, convey.ShouldEqual, 4)
				convey.So(cfg.FetchTimeout(), convey.ShouldEqual, 900*time.Millisecond)
				convey.So(cfg.DrainTimeout(), convey.ShouldEqual, 10*time.Second)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("STARTSIT_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid YAML", func() {
			tmpFile := createTempConfigFile("addr: [unterminated\n")
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("STARTSIT_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("STARTSIT_QUEUE_CAPACITY", "invalid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			tmpFile := createTempConfigFile("addr: \"\"\n")
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("STARTSIT_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the scoring table in the file is inconsistent", func() {
			tmpFile := createTempConfigFile(`
scoring:
  thresholds:
    start: 40
    consider: 60
`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("STARTSIT_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should reject the file", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the file routes a category to a queue no worker serves", func() {
			tmpFile := createTempConfigFile(`
category_queues:
  comparison: ai
worker_groups:
  - name: fast
    queues: [matchups]
    count: 2
`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("STARTSIT_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should reject the file", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, `"ai"`)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"STARTSIT_CONFIG",
		"STARTSIT_ADDR",
		"STARTSIT_BACKEND",
		"STARTSIT_REDIS_ADDR",
		"STARTSIT_QUEUE_CAPACITY",
		"STARTSIT_RESULT_TTL_SECONDS",
		"STARTSIT_MAX_RETRIES",
		"STARTSIT_PROVIDER_RPS",
		"STARTSIT_SCORING__THRESHOLDS__START",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "startsit-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
