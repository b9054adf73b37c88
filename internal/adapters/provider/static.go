package provider

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/startsit/internal/domain/model"
)

// Fixtures is the on-disk data set served by Static.
type Fixtures struct {
	Players   map[string]model.PlayerProfile  `koanf:"players"`
	Defenses  map[string]model.DefenseProfile `koanf:"defenses"`
	Forecasts map[string]model.Forecast       `koanf:"forecasts"`
	Injuries  map[string]model.InjuryReport   `koanf:"injuries"`
	Histories map[string]model.History        `koanf:"histories"`
}

// LoadFixtures reads a YAML fixture file.
func LoadFixtures(path string) (Fixtures, error) {
	k := koanf.New("::")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Fixtures{}, fmt.Errorf("load fixtures %s: %w", path, err)
	}
	var f Fixtures
	if err := k.UnmarshalWithConf("", &f, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Fixtures{}, fmt.Errorf("decode fixtures %s: %w", path, err)
	}
	return f, nil
}

// StaticOption applies a configuration option to Static.
type StaticOption func(*Static)

// WithLatency makes every call sleep a random duration in [minLatency, maxLatency)
// to model a remote service. Sleeps honour ctx.
func WithLatency(minLatency, maxLatency time.Duration) StaticOption {
	return func(s *Static) {
		if minLatency >= 0 && maxLatency > minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
	}
}

// Static serves Fixtures from memory. It implements every collaborator.
type Static struct {
	data       Fixtures
	minLatency time.Duration
	maxLatency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewStatic creates a fixture-backed provider.
func NewStatic(data Fixtures, opts ...StaticOption) *Static {
	s := &Static{
		data: data,
		rng:  rand.New(rand.NewSource(42)), //nolint:gosec // deterministic simulated latency
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set returns s as every collaborator.
func (s *Static) Set() Set {
	return Set{Players: s, Weather: s, Injuries: s, Histories: s}
}

func (s *Static) delay(ctx context.Context) error {
	if s.maxLatency <= 0 {
		return ctx.Err()
	}
	s.mu.Lock()
	d := s.minLatency + time.Duration(s.rng.Int63n(int64(s.maxLatency-s.minLatency)))
	s.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	case <-t.C:
		return nil
	}
}

func (s *Static) Player(ctx context.Context, playerID string) (model.PlayerProfile, error) {
	if err := s.delay(ctx); err != nil {
		return model.PlayerProfile{}, err
	}
	p, ok := s.data.Players[playerID]
	if !ok {
		return model.PlayerProfile{}, unavailable("player", playerID)
	}
	if p.PlayerID == "" {
		p.PlayerID = playerID
	}
	p.Position = model.Position(strings.ToUpper(string(p.Position)))
	return p, nil
}

func (s *Static) Defense(ctx context.Context, teamID string) (model.DefenseProfile, error) {
	if err := s.delay(ctx); err != nil {
		return model.DefenseProfile{}, err
	}
	d, ok := s.data.Defenses[strings.ToUpper(teamID)]
	if !ok {
		return model.DefenseProfile{}, unavailable("defense", teamID)
	}
	if d.TeamID == "" {
		d.TeamID = strings.ToUpper(teamID)
	}
	return d, nil
}

func (s *Static) Forecast(ctx context.Context, location string, _ time.Time) (model.Forecast, error) {
	if err := s.delay(ctx); err != nil {
		return model.Forecast{}, err
	}
	key := strings.ToLower(strings.Join(strings.Fields(location), " "))
	f, ok := s.data.Forecasts[key]
	if !ok {
		return model.Forecast{}, unavailable("forecast", location)
	}
	if f.Location == "" {
		f.Location = key
	}
	return f, nil
}

func (s *Static) Injury(ctx context.Context, playerID string) (model.InjuryReport, error) {
	if err := s.delay(ctx); err != nil {
		return model.InjuryReport{}, err
	}
	r, ok := s.data.Injuries[playerID]
	if !ok {
		return model.InjuryReport{}, unavailable("injury report", playerID)
	}
	if r.PlayerID == "" {
		r.PlayerID = playerID
	}
	return r, nil
}

func (s *Static) History(ctx context.Context, playerID string) (model.History, error) {
	if err := s.delay(ctx); err != nil {
		return model.History{}, err
	}
	h, ok := s.data.Histories[playerID]
	if !ok {
		return model.History{}, unavailable("history", playerID)
	}
	if h.PlayerID == "" {
		h.PlayerID = playerID
	}
	return h, nil
}
