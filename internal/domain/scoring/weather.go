package scoring

import (
	"fmt"
	"math"

	"github.com/okian/startsit/internal/domain/model"
)

const (
	domeScore    = 75.0
	outdoorScore = 85.0

	windThresholdMPH = 15.0
	windPenaltyPer   = 2.0
	precipPenalty    = 30.0
	coldThresholdF   = 32.0
	coldPenaltyPer   = 0.8
	heatThresholdF   = 90.0
	heatPenaltyPer   = 0.5
)

// weatherSensitivity scales penalties by how much a position suffers from bad weather.
var weatherSensitivity = map[model.Position]float64{ //nolint:gochecknoglobals // lookup table
	model.PositionK:       1.5,
	model.PositionQB:      1.2,
	model.PositionWR:      1.1,
	model.PositionTE:      1.0,
	model.PositionRB:      0.6,
	model.PositionDST:     0.5,
	model.PositionUnknown: 1.0,
}

// Sensitivity returns the weather sensitivity for pos.
func Sensitivity(pos model.Position) float64 {
	if s, ok := weatherSensitivity[pos]; ok {
		return s
	}
	return 1.0
}

// Weather scores game-time conditions; higher is better for fantasy output.
func Weather(pos model.Position, f model.Forecast) model.ScoreComponent {
	if f.Dome {
		return component(model.ComponentWeather, domeScore, "indoor stadium, weather neutralised")
	}

	sens := Sensitivity(pos)
	precip := f.PrecipChance
	if precip > 1 {
		precip /= 100
	}
	precip = math.Max(0, math.Min(1, precip))

	rationale := []string{fmt.Sprintf("%.0fF, wind %.0f mph, %.0f%% precipitation", f.TempF, f.WindMPH, precip*100)}
	penalty := 0.0
	if f.WindMPH > windThresholdMPH {
		p := (f.WindMPH - windThresholdMPH) * windPenaltyPer
		penalty += p
		rationale = append(rationale, fmt.Sprintf("wind above %.0f mph costs %.1f", windThresholdMPH, p*sens))
	}
	if precip > 0 {
		p := precip * precipPenalty
		penalty += p
		rationale = append(rationale, fmt.Sprintf("precipitation costs %.1f", p*sens))
	}
	if f.TempF < coldThresholdF {
		p := (coldThresholdF - f.TempF) * coldPenaltyPer
		penalty += p
		rationale = append(rationale, fmt.Sprintf("sub-freezing temperature costs %.1f", p*sens))
	}
	if f.TempF > heatThresholdF {
		p := (f.TempF - heatThresholdF) * heatPenaltyPer
		penalty += p
		rationale = append(rationale, fmt.Sprintf("heat costs %.1f", p*sens))
	}
	if sens != 1.0 {
		rationale = append(rationale, fmt.Sprintf("%s weather sensitivity x%.1f", pos, sens))
	}

	return component(model.ComponentWeather, outdoorScore-penalty*sens, rationale...)
}
