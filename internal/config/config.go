// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Durations are stored as integer milliseconds or seconds so they map to
//     flat env keys; use the accessor methods to get time.Duration values.
//   - New returns the defaults; Load layers a YAML file and env vars on top.
//   - External errors are wrapped with this package's sentinel errors.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/startsit/internal/adapters/mq/worker"
	"github.com/okian/startsit/internal/domain/grading"
	"github.com/okian/startsit/internal/domain/model"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

const seasonStartLayout = "2006-01-02"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the ops HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Backend selects memory or redis for queues, store and registry.
	Backend       string `koanf:"backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`

	// PostgresDSN enables the task archive when set.
	PostgresDSN string `koanf:"postgres_dsn"`

	// QueueCapacity bounds each in-memory queue.
	QueueCapacity int `koanf:"queue_capacity"`

	ResultTTLSeconds     int `koanf:"result_ttl_seconds"`
	TaskRetentionSeconds int `koanf:"task_retention_seconds"`
	// StaleAfterSeconds is how long a STARTED task may go without a state
	// write before a new submission takes over its fingerprint. It must
	// exceed the task timeout.
	StaleAfterSeconds int `koanf:"stale_after_seconds"`

	TaskTimeoutMS  int `koanf:"task_timeout_ms"`
	FetchTimeoutMS int `koanf:"fetch_timeout_ms"`
	MaxRetries     int `koanf:"max_retries"`
	BackoffBaseMS  int `koanf:"backoff_base_ms"`
	BackoffMaxMS   int `koanf:"backoff_max_ms"`
	DrainTimeoutMS int `koanf:"drain_timeout_ms"`

	// Season and SeasonStart (YYYY-MM-DD) drive the weekly time bucket.
	// A zero Season means the current year.
	Season      int    `koanf:"season"`
	SeasonStart string `koanf:"season_start"`

	// ProviderRPS rate-limits collaborator calls; zero disables the limiter.
	ProviderRPS float64 `koanf:"provider_rps"`
	// FixturesPath names the YAML fixture file for the static collaborators.
	FixturesPath string `koanf:"fixtures_path"`

	CategoryQueues map[string]string `koanf:"category_queues"`
	WorkerGroups   []worker.Group    `koanf:"worker_groups"`

	Scoring grading.Config `koanf:"scoring"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		Backend:              BackendMemory,
		RedisAddr:            "localhost:6379",
		RedisPrefix:          "startsit",
		QueueCapacity:        10_000,
		ResultTTLSeconds:     24 * 60 * 60,
		TaskRetentionSeconds: 7 * 24 * 60 * 60,
		StaleAfterSeconds:    10 * 60,
		TaskTimeoutMS:        30_000,
		FetchTimeoutMS:       2_000,
		MaxRetries:           3,
		BackoffBaseMS:        500,
		BackoffMaxMS:         30_000,
		DrainTimeoutMS:       10_000,
		SeasonStart:          "2025-09-04",
		FixturesPath:         "configs/fixtures.yaml",
		CategoryQueues: map[string]string{
			string(model.CategoryMatchup):    "matchups",
			string(model.CategoryComparison): "analysis",
		},
		WorkerGroups: []worker.Group{
			{Name: "matchups", Queues: []string{"matchups"}, Count: 4},
			{Name: "analysis", Queues: []string{"analysis", "matchups"}, Count: 2},
		},
		Scoring: grading.DefaultConfig(),
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis_addr must not be empty for the redis backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue_capacity must be positive", ErrInvalidConfig)
	}
	if c.ResultTTLSeconds < 1 || c.StaleAfterSeconds < 1 || c.TaskRetentionSeconds < 1 {
		return fmt.Errorf("%w: ttl settings must be positive", ErrInvalidConfig)
	}
	if c.TaskTimeoutMS < 1 || c.FetchTimeoutMS < 1 || c.DrainTimeoutMS < 1 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.StaleAfter() <= c.TaskTimeout() {
		return fmt.Errorf("%w: stale_after_seconds must exceed task_timeout_ms", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidConfig)
	}
	if c.BackoffBaseMS < 1 || c.BackoffMaxMS < c.BackoffBaseMS {
		return fmt.Errorf("%w: backoff must satisfy 0 < backoff_base_ms <= backoff_max_ms", ErrInvalidConfig)
	}
	if _, err := c.SeasonStartTime(); err != nil {
		return err
	}
	if c.ProviderRPS < 0 {
		return fmt.Errorf("%w: provider_rps must not be negative", ErrInvalidConfig)
	}
	routes, err := c.Routes()
	if err != nil {
		return err
	}
	if len(c.WorkerGroups) == 0 {
		return fmt.Errorf("%w: at least one worker group is required", ErrInvalidConfig)
	}
	served := make(map[string]bool)
	for _, g := range c.WorkerGroups {
		if strings.TrimSpace(g.Name) == "" || len(g.Queues) == 0 {
			return fmt.Errorf("%w: worker group %q needs a name and queues", ErrInvalidConfig, g.Name)
		}
		for _, q := range g.Queues {
			served[q] = true
		}
	}
	for cat, q := range routes {
		if !served[q] {
			return fmt.Errorf("%w: queue %q for category %q is not served by any worker group", ErrInvalidConfig, q, cat)
		}
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("%w: scoring: %w", ErrInvalidConfig, err)
	}
	return nil
}

// SeasonStartTime parses SeasonStart as a UTC date.
func (c *Config) SeasonStartTime() (time.Time, error) {
	t, err := time.ParseInLocation(seasonStartLayout, c.SeasonStart, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: season_start %q is not YYYY-MM-DD", ErrInvalidConfig, c.SeasonStart)
	}
	return t, nil
}

// Routes converts CategoryQueues into typed category routing.
func (c *Config) Routes() (map[model.Category]string, error) {
	routes := make(map[model.Category]string, len(c.CategoryQueues))
	for k, q := range c.CategoryQueues {
		cat := model.Category(strings.ToLower(strings.TrimSpace(k)))
		if cat != model.CategoryMatchup && cat != model.CategoryComparison {
			return nil, fmt.Errorf("%w: unknown category %q in category_queues", ErrInvalidConfig, k)
		}
		if strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("%w: empty queue for category %q", ErrInvalidConfig, k)
		}
		routes[cat] = q
	}
	return routes, nil
}

func (c *Config) ResultTTL() time.Duration     { return seconds(c.ResultTTLSeconds) }
func (c *Config) TaskRetention() time.Duration { return seconds(c.TaskRetentionSeconds) }
func (c *Config) StaleAfter() time.Duration    { return seconds(c.StaleAfterSeconds) }
func (c *Config) TaskTimeout() time.Duration   { return millis(c.TaskTimeoutMS) }
func (c *Config) FetchTimeout() time.Duration  { return millis(c.FetchTimeoutMS) }
func (c *Config) BackoffBase() time.Duration   { return millis(c.BackoffBaseMS) }
func (c *Config) BackoffMax() time.Duration    { return millis(c.BackoffMaxMS) }
func (c *Config) DrainTimeout() time.Duration  { return millis(c.DrainTimeoutMS) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
