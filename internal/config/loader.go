package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/startsit/internal/adapters/mq/worker"
	"github.com/okian/startsit/internal/domain/grading"
)

// Environment variables read by Load.
const (
	EnvPrefix = "STARTSIT_"
	EnvFile   = "STARTSIT_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if STARTSIT_CONFIG is set
//  3. env (prefix STARTSIT_)
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(EnvFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// STARTSIT_RESULT_TTL_SECONDS -> result_ttl_seconds. A double underscore
	// descends into nested keys: STARTSIT_SCORING__THRESHOLDS__START.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Lists merge element-wise into the defaults; a configured list replaces them.
	if k.Exists("worker_groups") {
		var groups []worker.Group
		if err := k.UnmarshalWithConf("worker_groups", &groups, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
			return nil, fmt.Errorf("%w: worker_groups: %w", ErrLoadConfig, err)
		}
		cfg.WorkerGroups = groups
	}
	if k.Exists("scoring.grades") {
		var grades []grading.Band
		if err := k.UnmarshalWithConf("scoring.grades", &grades, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
			return nil, fmt.Errorf("%w: scoring.grades: %w", ErrLoadConfig, err)
		}
		cfg.Scoring.Grades = grades
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
