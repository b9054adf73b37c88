package model

// ComponentName identifies one of the four sub-scores.
type ComponentName string

// Score component names.
const (
	ComponentMatchup       ComponentName = "matchup"
	ComponentWeather       ComponentName = "weather"
	ComponentInjury        ComponentName = "injury"
	ComponentAdvancedStats ComponentName = "advanced_stats"
)

// Components lists component names in presentation order.
var Components = []ComponentName{ComponentMatchup, ComponentWeather, ComponentInjury, ComponentAdvancedStats}

// ScoreComponent is one bounded sub-score with its rationale.
type ScoreComponent struct {
	Name       ComponentName `json:"name"`
	Value      float64       `json:"value"`
	Rationale  []string      `json:"rationale"`
	IsFallback bool          `json:"is_fallback"`
}

// Recommendation is the start/sit verdict derived from the composite score.
type Recommendation string

// Recommendations.
const (
	RecommendStart    Recommendation = "START"
	RecommendConsider Recommendation = "CONSIDER"
	RecommendBench    Recommendation = "BENCH"
)

// Grade is a letter grade with its ordinal rank; a higher Rank is a better grade.
type Grade struct {
	Letter string `json:"letter"`
	Rank   int    `json:"rank"`
}

// Range is a closed interval of projected points.
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// AnalysisResult is the graded recommendation for one request.
type AnalysisResult struct {
	PlayerID        string           `json:"player_id"`
	OpponentID      string           `json:"opponent_id"`
	Position        Position         `json:"position"`
	Components      []ScoreComponent `json:"components"`
	CompositeScore  float64          `json:"composite_score"`
	Grade           Grade            `json:"grade"`
	Recommendation  Recommendation   `json:"recommendation"`
	Confidence      float64          `json:"confidence"`
	ProjectedPoints float64          `json:"projected_points"`
	ProjectedRange  Range            `json:"projected_range"`
}

// Component returns the named component, if present.
func (r AnalysisResult) Component(name ComponentName) (ScoreComponent, bool) {
	for _, c := range r.Components {
		if c.Name == name {
			return c, true
		}
	}
	return ScoreComponent{}, false
}

// ComparisonResult ranks two analysed players for one lineup slot.
type ComparisonResult struct {
	First             AnalysisResult `json:"first"`
	Second            AnalysisResult `json:"second"`
	PreferredPlayerID string         `json:"preferred_player_id"`
	Margin            float64        `json:"margin"`
	Rationale         string         `json:"rationale"`
}
