// Package request validates raw JSON submissions before they become task payloads.
package request

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/okian/startsit/internal/domain/failure"
	"github.com/okian/startsit/internal/domain/model"
)

const op = "request.parse"

const analysisSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["player_id", "opponent_id"],
  "additionalProperties": false,
  "properties": {
    "player_id":    {"type": "string", "pattern": "\\S"},
    "opponent_id":  {"type": "string", "pattern": "\\S"},
    "location":     {"type": "string"},
    "scoring_type": {"type": "string"}
  }
}`

const comparisonSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["first", "second"],
  "additionalProperties": false,
  "definitions": {
    "analysis": ` + analysisSchema + `
  },
  "properties": {
    "first":  {"$ref": "#/definitions/analysis"},
    "second": {"$ref": "#/definitions/analysis"}
  }
}`

var (
	analysis   = mustSchema(analysisSchema)
	comparison = mustSchema(comparisonSchema)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(err)
	}
	return s
}

type wireAnalysis struct {
	PlayerID    string `json:"player_id"`
	OpponentID  string `json:"opponent_id"`
	Location    string `json:"location"`
	ScoringType string `json:"scoring_type"`
}

func (w wireAnalysis) model() model.AnalysisRequest {
	return model.AnalysisRequest{
		PlayerID:    w.PlayerID,
		OpponentID:  w.OpponentID,
		Location:    w.Location,
		ScoringType: model.ScoringType(w.ScoringType),
	}
}

type wireComparison struct {
	First  wireAnalysis `json:"first"`
	Second wireAnalysis `json:"second"`
}

// ParseAnalysis validates raw against the single-player schema. The result
// is not yet normalized and carries no bucket.
func ParseAnalysis(raw []byte) (model.AnalysisRequest, error) {
	if err := validate(analysis, raw); err != nil {
		return model.AnalysisRequest{}, err
	}
	var w wireAnalysis
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.AnalysisRequest{}, failure.Validation(op, "decode: %v", err)
	}
	return w.model(), nil
}

// ParseComparison validates raw against the two-player schema.
func ParseComparison(raw []byte) (model.ComparisonRequest, error) {
	if err := validate(comparison, raw); err != nil {
		return model.ComparisonRequest{}, err
	}
	var w wireComparison
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.ComparisonRequest{}, failure.Validation(op, "decode: %v", err)
	}
	return model.ComparisonRequest{First: w.First.model(), Second: w.Second.model()}, nil
}

// Parse dispatches on category and returns the matching payload variant.
func Parse(category model.Category, raw []byte) (model.Payload, error) {
	switch category {
	case model.CategoryMatchup:
		r, err := ParseAnalysis(raw)
		if err != nil {
			return model.Payload{}, err
		}
		return model.MatchupPayload(r), nil
	case model.CategoryComparison:
		c, err := ParseComparison(raw)
		if err != nil {
			return model.Payload{}, err
		}
		return model.ComparisonPayload(c), nil
	default:
		return model.Payload{}, failure.Validation(op, "unknown category %q", category)
	}
}

func validate(schema *gojsonschema.Schema, raw []byte) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return failure.Validation(op, "malformed json: %v", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return failure.Validation(op, "%s", strings.Join(msgs, "; "))
}
