// Package scoring turns fetched raw inputs into bounded component scores.
//
// Every calculator is pure: the same inputs always produce the same component,
// and none of them performs I/O. Missing inputs are the caller's concern; it
// substitutes Fallback for a calculator whose data could not be obtained.
package scoring

import (
	"math"

	"github.com/okian/startsit/internal/domain/model"
)

const (
	// MinScore and MaxScore bound every component value.
	MinScore = 0.0
	MaxScore = 100.0
	// Neutral is the fallback value when data is unavailable.
	Neutral = 50.0

	rationaleUnavailable = "data unavailable"
)

// Clamp bounds v to [MinScore, MaxScore]. NaN maps to Neutral.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return Neutral
	}
	return math.Max(MinScore, math.Min(MaxScore, v))
}

// Fallback is the neutral substitute for a component whose data is missing.
func Fallback(name model.ComponentName) model.ScoreComponent {
	return model.ScoreComponent{
		Name:       name,
		Value:      Neutral,
		Rationale:  []string{rationaleUnavailable},
		IsFallback: true,
	}
}

func component(name model.ComponentName, value float64, rationale ...string) model.ScoreComponent {
	return model.ScoreComponent{
		Name:      name,
		Value:     round1(Clamp(value)),
		Rationale: rationale,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
