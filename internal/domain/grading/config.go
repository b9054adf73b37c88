package grading

import (
	"fmt"
	"slices"

	"github.com/okian/startsit/internal/domain/model"
)

// Band maps every composite score >= Min to Letter.
type Band struct {
	Letter string  `koanf:"letter" json:"letter"`
	Min    float64 `koanf:"min" json:"min"`
}

// Thresholds drive the recommendation.
type Thresholds struct {
	Start    float64 `koanf:"start" json:"start"`
	Consider float64 `koanf:"consider" json:"consider"`
}

// ConfidenceConfig tunes the confidence estimate.
type ConfidenceConfig struct {
	Min float64 `koanf:"min" json:"min"`
	Max float64 `koanf:"max" json:"max"`
	// FallbackCeiling caps confidence once FallbackLimit or more components fell back.
	FallbackCeiling float64 `koanf:"fallback_ceiling" json:"fallback_ceiling"`
	FallbackLimit   int     `koanf:"fallback_limit" json:"fallback_limit"`
}

// ProjectionConfig tunes the point projection.
type ProjectionConfig struct {
	// Swing is the relative adjustment at composite 0 or 100.
	Swing float64 `koanf:"swing" json:"swing"`
	// WideFactor and NarrowFactor scale the std-dev into the range half-width at
	// zero and full confidence.
	WideFactor   float64                       `koanf:"wide_factor" json:"wide_factor"`
	NarrowFactor float64                       `koanf:"narrow_factor" json:"narrow_factor"`
	Baselines    map[model.Position]float64    `koanf:"baselines" json:"baselines"`
	ScoringScale map[model.ScoringType]float64 `koanf:"scoring_scale" json:"scoring_scale"`
	// StdDevRatio derives a std-dev from the baseline when history has none.
	StdDevRatio float64 `koanf:"stddev_ratio" json:"stddev_ratio"`
}

// Config is the full tunable grading table.
type Config struct {
	// DefaultWeights apply to positions without an entry in Weights.
	DefaultWeights map[model.ComponentName]float64                    `koanf:"default_weights" json:"default_weights"`
	Weights        map[model.Position]map[model.ComponentName]float64 `koanf:"weights" json:"weights"`
	Grades         []Band                                             `koanf:"grades" json:"grades"`
	Thresholds     Thresholds                                         `koanf:"thresholds" json:"thresholds"`
	Confidence     ConfidenceConfig                                   `koanf:"confidence" json:"confidence"`
	Projection     ProjectionConfig                                   `koanf:"projection" json:"projection"`
}

// DefaultConfig returns equal weights and the standard letter table.
func DefaultConfig() Config {
	return Config{
		DefaultWeights: map[model.ComponentName]float64{
			model.ComponentMatchup:       1,
			model.ComponentWeather:       1,
			model.ComponentInjury:        1,
			model.ComponentAdvancedStats: 1,
		},
		Weights: map[model.Position]map[model.ComponentName]float64{},
		Grades: []Band{
			{Letter: "A+", Min: 90},
			{Letter: "A", Min: 80},
			{Letter: "B+", Min: 75},
			{Letter: "B", Min: 70},
			{Letter: "C+", Min: 65},
			{Letter: "C", Min: 60},
			{Letter: "C-", Min: 50},
			{Letter: "D", Min: 40},
			{Letter: "F", Min: 0},
		},
		Thresholds: Thresholds{Start: 70, Consider: 40},
		Confidence: ConfidenceConfig{Min: 0.1, Max: 0.95, FallbackCeiling: 0.4, FallbackLimit: 2},
		Projection: ProjectionConfig{
			Swing:        0.3,
			WideFactor:   1.5,
			NarrowFactor: 0.5,
			Baselines: map[model.Position]float64{
				model.PositionQB:      18,
				model.PositionRB:      12,
				model.PositionWR:      12,
				model.PositionTE:      8,
				model.PositionK:       8,
				model.PositionDST:     7,
				model.PositionUnknown: 10,
			},
			ScoringScale: map[model.ScoringType]float64{
				model.ScoringPPR:      1.0,
				model.ScoringHalfPPR:  0.9,
				model.ScoringStandard: 0.8,
			},
			StdDevRatio: 0.4,
		},
	}
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	if err := validateWeights("default", c.DefaultWeights); err != nil {
		return err
	}
	for pos, w := range c.Weights {
		if err := validateWeights(string(pos), w); err != nil {
			return err
		}
	}

	if len(c.Grades) == 0 {
		return fmt.Errorf("%w: empty grade table", ErrInvalidConfig)
	}
	for i := 1; i < len(c.Grades); i++ {
		if c.Grades[i].Min >= c.Grades[i-1].Min {
			return fmt.Errorf("%w: grade %q must have a lower minimum than %q",
				ErrInvalidConfig, c.Grades[i].Letter, c.Grades[i-1].Letter)
		}
	}
	if last := c.Grades[len(c.Grades)-1]; last.Min > 0 {
		return fmt.Errorf("%w: lowest grade %q must start at 0", ErrInvalidConfig, last.Letter)
	}

	if c.Thresholds.Start <= c.Thresholds.Consider {
		return fmt.Errorf("%w: start threshold %.1f must exceed consider threshold %.1f",
			ErrInvalidConfig, c.Thresholds.Start, c.Thresholds.Consider)
	}

	cc := c.Confidence
	if cc.Min < 0 || cc.Max > 1 || cc.Min > cc.FallbackCeiling || cc.FallbackCeiling > cc.Max {
		return fmt.Errorf("%w: confidence bounds must satisfy 0 <= min <= fallback_ceiling <= max <= 1", ErrInvalidConfig)
	}
	if cc.FallbackLimit < 1 {
		return fmt.Errorf("%w: fallback_limit must be positive", ErrInvalidConfig)
	}

	p := c.Projection
	if p.Swing < 0 || p.Swing >= 1 {
		return fmt.Errorf("%w: projection swing must be in [0,1)", ErrInvalidConfig)
	}
	if p.NarrowFactor < 0 || p.WideFactor < p.NarrowFactor {
		return fmt.Errorf("%w: projection factors must satisfy 0 <= narrow <= wide", ErrInvalidConfig)
	}
	return nil
}

func validateWeights(name string, w map[model.ComponentName]float64) error {
	total := 0.0
	for comp, v := range w {
		if !slices.Contains(model.Components, comp) {
			return fmt.Errorf("%w: %s weights name unknown component %q", ErrInvalidConfig, name, comp)
		}
		if v < 0 {
			return fmt.Errorf("%w: %s weight for %s is negative", ErrInvalidConfig, name, comp)
		}
		total += v
	}
	if len(w) > 0 && total == 0 {
		return fmt.Errorf("%w: %s weights sum to zero", ErrInvalidConfig, name)
	}
	return nil
}
