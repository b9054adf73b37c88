// Package analysis executes one task payload end to end: it fetches raw inputs
// from the collaborators, runs the four calculators concurrently and grades the
// joined components.
package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/okian/startsit/internal/adapters/provider"
	"github.com/okian/startsit/internal/domain/failure"
	"github.com/okian/startsit/internal/domain/grading"
	"github.com/okian/startsit/internal/domain/model"
	"github.com/okian/startsit/internal/domain/scoring"
	"github.com/okian/startsit/pkg/logger"
	"github.com/okian/startsit/pkg/metrics"
)

const defaultFetchTimeout = 2 * time.Second

// Checkpoint is consulted between stages. A non-nil error aborts the run.
type Checkpoint func(ctx context.Context) error

func noCheckpoint(context.Context) error { return nil }

// Pipeline is safe for concurrent use by many workers.
type Pipeline struct {
	sources      provider.Set
	grader       *grading.Grader
	fetchTimeout time.Duration
	seasonStart  time.Time
	logger       logger.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFetchTimeout bounds every collaborator call.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.fetchTimeout = d
		}
	}
}

// WithSeasonStart anchors bucket weeks to kickoff dates for weather lookups.
func WithSeasonStart(t time.Time) Option {
	return func(p *Pipeline) {
		p.seasonStart = t
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New builds a Pipeline over a complete collaborator set.
func New(sources provider.Set, grader *grading.Grader, opts ...Option) (*Pipeline, error) {
	if err := sources.Validate(); err != nil {
		return nil, err
	}
	if grader == nil {
		grader = grading.Must(grading.DefaultConfig())
	}
	p := &Pipeline{
		sources:      sources,
		grader:       grader,
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("pipeline")
	}
	return p, nil
}

// Execute runs the variant named by the payload category.
func (p *Pipeline) Execute(ctx context.Context, payload model.Payload, check Checkpoint) (model.Result, error) {
	if err := payload.Check(); err != nil {
		return model.Result{}, failure.WrapKind("analysis.execute", failure.ErrValidation, err)
	}
	switch payload.Category {
	case model.CategoryComparison:
		res, err := p.Compare(ctx, *payload.Comparison, check)
		if err != nil {
			return model.Result{}, err
		}
		return model.Result{Category: model.CategoryComparison, Comparison: &res}, nil
	default:
		res, err := p.Analyze(ctx, *payload.Matchup, check)
		if err != nil {
			return model.Result{}, err
		}
		return model.Result{Category: model.CategoryMatchup, Matchup: &res}, nil
	}
}

// Analyze grades one player. Collaborator failures and fetch timeouts become
// fallback components; only cancellation and the task deadline abort.
func (p *Pipeline) Analyze(ctx context.Context, req model.AnalysisRequest, check Checkpoint) (model.AnalysisResult, error) {
	const op = "analysis.analyze"
	if check == nil {
		check = noCheckpoint
	}

	pos := model.PositionUnknown
	var profile *model.PlayerProfile
	bio, err := fetch(ctx, p.fetchTimeout, func(ctx context.Context) (model.PlayerProfile, error) {
		return p.sources.Players.Player(ctx, req.PlayerID)
	})
	if err == nil {
		profile = &bio
		if bio.Position != "" {
			pos = bio.Position
		}
	} else {
		p.logger.Debug(ctx, "player bio unavailable",
			logger.String("player_id", req.PlayerID), logger.Error(err))
	}
	if err := p.stage(ctx, op, check); err != nil {
		return model.AnalysisResult{}, err
	}

	comps, history := p.components(ctx, pos, req)
	if err := p.stage(ctx, op, check); err != nil {
		return model.AnalysisResult{}, err
	}

	return p.grader.Grade(grading.Input{
		PlayerID:    req.PlayerID,
		OpponentID:  req.OpponentID,
		Position:    pos,
		ScoringType: req.ScoringType,
		Components:  comps,
		Profile:     profile,
		History:     history,
	}), nil
}

// Compare analyses both players concurrently and ranks them.
func (p *Pipeline) Compare(ctx context.Context, req model.ComparisonRequest, check Checkpoint) (model.ComparisonResult, error) {
	var (
		wg            sync.WaitGroup
		first, second model.AnalysisResult
		errFirst      error
		errSecond     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		first, errFirst = p.Analyze(ctx, req.First, check)
	}()
	go func() {
		defer wg.Done()
		second, errSecond = p.Analyze(ctx, req.Second, check)
	}()
	wg.Wait()

	if errFirst != nil {
		return model.ComparisonResult{}, errFirst
	}
	if errSecond != nil {
		return model.ComparisonResult{}, errSecond
	}
	return grading.Compare(first, second), nil
}

// stage runs the checkpoint and converts an expired task deadline into a
// retryable timeout.
func (p *Pipeline) stage(ctx context.Context, op string, check Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return failure.WrapKind(op, failure.ErrTaskTimeout, err)
	}
	return check(ctx)
}

// components fans the four fetch-and-score calls out and joins them. Each slot
// is written by exactly one goroutine, and all of them finish before return.
func (p *Pipeline) components(ctx context.Context, pos model.Position, req model.AnalysisRequest) ([]model.ScoreComponent, *model.History) {
	var (
		wg      sync.WaitGroup
		out     = make([]model.ScoreComponent, len(model.Components))
		history *model.History
	)
	calculators := []func(context.Context) model.ScoreComponent{
		func(ctx context.Context) model.ScoreComponent {
			def, err := fetch(ctx, p.fetchTimeout, func(ctx context.Context) (model.DefenseProfile, error) {
				return p.sources.Players.Defense(ctx, req.OpponentID)
			})
			if err != nil {
				return p.fallback(ctx, model.ComponentMatchup, err)
			}
			return scoring.Matchup(pos, def)
		},
		func(ctx context.Context) model.ScoreComponent {
			if req.Location == "" {
				return p.fallback(ctx, model.ComponentWeather, nil)
			}
			kickoff := req.Bucket.Kickoff(p.seasonStart)
			f, err := fetch(ctx, p.fetchTimeout, func(ctx context.Context) (model.Forecast, error) {
				return p.sources.Weather.Forecast(ctx, req.Location, kickoff)
			})
			if err != nil {
				return p.fallback(ctx, model.ComponentWeather, err)
			}
			return scoring.Weather(pos, f)
		},
		func(ctx context.Context) model.ScoreComponent {
			r, err := fetch(ctx, p.fetchTimeout, func(ctx context.Context) (model.InjuryReport, error) {
				return p.sources.Injuries.Injury(ctx, req.PlayerID)
			})
			if err != nil {
				return p.fallback(ctx, model.ComponentInjury, err)
			}
			return scoring.Injury(r)
		},
		func(ctx context.Context) model.ScoreComponent {
			h, err := fetch(ctx, p.fetchTimeout, func(ctx context.Context) (model.History, error) {
				return p.sources.Histories.History(ctx, req.PlayerID)
			})
			if err != nil {
				return p.fallback(ctx, model.ComponentAdvancedStats, err)
			}
			history = &h
			return scoring.AdvancedStats(h)
		},
	}

	for i, calc := range calculators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			c := calc(ctx)
			c.Name = model.Components[i]
			metrics.RecordCalculatorLatency(string(c.Name), float64(time.Since(start).Milliseconds()))
			if c.IsFallback {
				metrics.RecordCalculatorFallback(string(c.Name))
			}
			out[i] = c
		}()
	}
	wg.Wait()
	return out, history
}

func (p *Pipeline) fallback(ctx context.Context, name model.ComponentName, err error) model.ScoreComponent {
	if err != nil {
		p.logger.Debug(ctx, "component fell back",
			logger.String("component", string(name)), logger.Error(err))
	}
	return scoring.Fallback(name)
}

// fetch bounds call by timeout. When the deadline passes first the call keeps
// running in the background and its value is dropped into a buffered channel
// nobody reads.
func fetch[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := call(ctx)
		done <- outcome{val: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			var zero T
			return zero, failure.WrapKind("analysis.fetch", failure.ErrDataSourceUnavailable, o.err)
		}
		return o.val, nil
	case <-ctx.Done():
		var zero T
		return zero, failure.WrapKind("analysis.fetch", failure.ErrDataSourceUnavailable, ctx.Err())
	}
}
