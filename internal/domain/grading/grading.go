// Package grading combines component scores into a graded start/sit recommendation.
package grading

import (
	"fmt"
	"math"

	"github.com/okian/startsit/internal/domain/model"
	"github.com/okian/startsit/internal/domain/scoring"
)

// Input is everything the grader needs for one player.
type Input struct {
	PlayerID    string
	OpponentID  string
	Position    model.Position
	ScoringType model.ScoringType
	Components  []model.ScoreComponent
	// Profile and History are optional; they only feed the projection baseline.
	Profile *model.PlayerProfile
	History *model.History
}

// Grader is safe for concurrent use; its config is never mutated after New.
type Grader struct {
	cfg Config
}

// New validates cfg and returns a Grader.
func New(cfg Config) (*Grader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Grader{cfg: cfg}, nil
}

// Must is New for configs known to be valid, such as DefaultConfig.
func Must(cfg Config) *Grader {
	g, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return g
}

// Grade produces the full AnalysisResult.
func (g *Grader) Grade(in Input) model.AnalysisResult {
	composite := g.Composite(in.Position, in.Components)
	grade := g.GradeFor(composite)
	confidence := g.Confidence(in.Components)
	point, rng := g.Project(in, composite, confidence)

	return model.AnalysisResult{
		PlayerID:        in.PlayerID,
		OpponentID:      in.OpponentID,
		Position:        in.Position,
		Components:      in.Components,
		CompositeScore:  composite,
		Grade:           grade,
		Recommendation:  g.Recommend(composite),
		Confidence:      confidence,
		ProjectedPoints: point,
		ProjectedRange:  rng,
	}
}

// Composite is the weighted mean of the component values, clamped to [0,100].
func (g *Grader) Composite(pos model.Position, comps []model.ScoreComponent) float64 {
	weights := g.weightsFor(pos)
	sum, total := 0.0, 0.0
	for _, c := range comps {
		w, ok := weights[c.Name]
		if !ok {
			if len(weights) > 0 {
				continue
			}
			w = 1
		}
		sum += w * scoring.Clamp(c.Value)
		total += w
	}
	if total == 0 {
		return scoring.Neutral
	}
	return round(scoring.Clamp(sum/total), 1)
}

func (g *Grader) weightsFor(pos model.Position) map[model.ComponentName]float64 {
	if w, ok := g.cfg.Weights[pos]; ok && len(w) > 0 {
		return w
	}
	return g.cfg.DefaultWeights
}

// GradeFor maps a composite score onto the grade table.
func (g *Grader) GradeFor(score float64) model.Grade {
	bands := g.cfg.Grades
	for i, b := range bands {
		if score >= b.Min {
			return model.Grade{Letter: b.Letter, Rank: len(bands) - i}
		}
	}
	last := bands[len(bands)-1]
	return model.Grade{Letter: last.Letter, Rank: 1}
}

// Recommend derives the verdict from the composite score alone.
func (g *Grader) Recommend(score float64) model.Recommendation {
	switch {
	case score >= g.cfg.Thresholds.Start:
		return model.RecommendStart
	case score >= g.cfg.Thresholds.Consider:
		return model.RecommendConsider
	default:
		return model.RecommendBench
	}
}

// Confidence rises with agreement among real components and with coverage.
func (g *Grader) Confidence(comps []model.ScoreComponent) float64 {
	cc := g.cfg.Confidence
	var real []float64
	fallbacks := 0
	for _, c := range comps {
		if c.IsFallback {
			fallbacks++
			continue
		}
		real = append(real, scoring.Clamp(c.Value))
	}
	if len(real) == 0 {
		return cc.Min
	}

	agreement := math.Max(0, 1-scoring.StdDev(real)/scoring.Neutral)
	coverage := float64(len(real)) / float64(len(model.Components))
	if coverage > 1 {
		coverage = 1
	}
	conf := cc.Min + (cc.Max-cc.Min)*agreement*coverage
	if fallbacks >= cc.FallbackLimit {
		conf = math.Min(conf, cc.FallbackCeiling)
	}
	return round(conf, 3)
}

// Project returns the point estimate and its range.
func (g *Grader) Project(in Input, composite, confidence float64) (float64, model.Range) {
	p := g.cfg.Projection
	mean, sd := g.baseline(in)

	point := math.Max(0, mean*(1+p.Swing*(composite-scoring.Neutral)/scoring.Neutral))
	half := sd * (p.WideFactor - (p.WideFactor-p.NarrowFactor)*confidence)
	return round(point, 1), model.Range{
		Low:  round(math.Max(0, point-half), 1),
		High: round(point+half, 1),
	}
}

// baseline picks the historical mean and std-dev, falling back to per-position defaults.
func (g *Grader) baseline(in Input) (float64, float64) {
	p := g.cfg.Projection
	mean, sd := 0.0, 0.0

	if h := in.History; h != nil {
		mean = h.SeasonAverage
		if mean <= 0 {
			mean = scoring.Mean(h.RecentPoints)
		}
		sd = h.StdDev
		if sd <= 0 {
			sd = scoring.StdDev(h.RecentPoints)
		}
	}
	if mean <= 0 && in.Profile != nil {
		mean = in.Profile.PointsPerGame
	}
	if mean <= 0 {
		mean = g.defaultBaseline(in.Position, in.ScoringType)
	}
	if sd <= 0 {
		sd = mean * p.StdDevRatio
	}
	return mean, sd
}

func (g *Grader) defaultBaseline(pos model.Position, st model.ScoringType) float64 {
	p := g.cfg.Projection
	base, ok := p.Baselines[pos]
	if !ok {
		base = p.Baselines[model.PositionUnknown]
	}
	switch pos {
	case model.PositionRB, model.PositionWR, model.PositionTE:
		if scale, ok := p.ScoringScale[st]; ok {
			base *= scale
		}
	}
	return base
}

// Compare prefers the higher composite, then the higher projection, then the first player.
func Compare(first, second model.AnalysisResult) model.ComparisonResult {
	out := model.ComparisonResult{First: first, Second: second}
	margin := first.CompositeScore - second.CompositeScore

	switch {
	case margin > 0:
		out.PreferredPlayerID = first.PlayerID
		out.Rationale = fmt.Sprintf("%s grades %s vs %s for %s", first.PlayerID, first.Grade.Letter, second.Grade.Letter, second.PlayerID)
	case margin < 0:
		out.PreferredPlayerID = second.PlayerID
		out.Rationale = fmt.Sprintf("%s grades %s vs %s for %s", second.PlayerID, second.Grade.Letter, first.Grade.Letter, first.PlayerID)
	case second.ProjectedPoints > first.ProjectedPoints:
		out.PreferredPlayerID = second.PlayerID
		out.Rationale = fmt.Sprintf("equal composite, %s projects %.1f vs %.1f", second.PlayerID, second.ProjectedPoints, first.ProjectedPoints)
	default:
		out.PreferredPlayerID = first.PlayerID
		out.Rationale = fmt.Sprintf("equal composite, %s projects %.1f vs %.1f", first.PlayerID, first.ProjectedPoints, second.ProjectedPoints)
	}
	out.Margin = round(math.Abs(margin), 1)
	return out
}

func round(v float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(v*f) / f
}
