package scoring

import (
	"fmt"
	"strings"

	"github.com/okian/startsit/internal/domain/model"
)

const softTissuePenalty = 5.0

var injuryBase = map[model.InjuryStatus]float64{ //nolint:gochecknoglobals // lookup table
	model.InjuryHealthy:      95,
	model.InjuryQuestionable: 60,
	model.InjuryDoubtful:     25,
	model.InjuryOut:          0,
	model.InjuryReserve:      0,
}

var practiceAdjust = map[model.Practice]float64{ //nolint:gochecknoglobals // lookup table
	model.PracticeFull:    5,
	model.PracticeLimited: -5,
	model.PracticeDNP:     -15,
}

var softTissue = []string{"hamstring", "groin", "calf"} //nolint:gochecknoglobals // lookup table

// Injury scores availability risk; higher means lower risk.
func Injury(r model.InjuryReport) model.ScoreComponent {
	status := model.InjuryStatus(strings.ToLower(strings.TrimSpace(string(r.Status))))
	if status == "" {
		status = model.InjuryHealthy
	}

	base, ok := injuryBase[status]
	if !ok {
		base = injuryBase[model.InjuryQuestionable]
	}
	rationale := []string{fmt.Sprintf("designation: %s", status)}
	if !ok {
		rationale = append(rationale, "unrecognised designation treated as questionable")
	}
	if base == 0 {
		rationale = append(rationale, "not expected to play")
		return component(model.ComponentInjury, 0, rationale...)
	}

	value := base
	if practice := model.Practice(strings.ToLower(string(r.Practice))); practice != "" {
		if adj, ok := practiceAdjust[practice]; ok {
			value += adj
			rationale = append(rationale, fmt.Sprintf("practice %s (%+.0f)", practice, adj))
		}
	}
	if part := strings.ToLower(strings.TrimSpace(r.BodyPart)); part != "" && status != model.InjuryHealthy {
		for _, st := range softTissue {
			if strings.Contains(part, st) {
				value -= softTissuePenalty
				rationale = append(rationale, fmt.Sprintf("%s injuries re-aggravate easily (-%.0f)", part, softTissuePenalty))
				break
			}
		}
	}
	return component(model.ComponentInjury, value, rationale...)
}
