// Package model contains domain models passed between layers.
package model

import (
	"strings"

	"github.com/okian/startsit/internal/domain/failure"
)

// ScoringType is the fantasy scoring format a projection is computed for.
type ScoringType string

// Supported scoring formats.
const (
	ScoringPPR      ScoringType = "ppr"
	ScoringHalfPPR  ScoringType = "half_ppr"
	ScoringStandard ScoringType = "standard"
)

var scoringAliases = map[string]ScoringType{
	"":         ScoringPPR,
	"ppr":      ScoringPPR,
	"full":     ScoringPPR,
	"half":     ScoringHalfPPR,
	"half_ppr": ScoringHalfPPR,
	"half-ppr": ScoringHalfPPR,
	"0.5ppr":   ScoringHalfPPR,
	"standard": ScoringStandard,
	"std":      ScoringStandard,
	"non_ppr":  ScoringStandard,
}

// ParseScoringType resolves a user-supplied scoring format, defaulting to PPR.
func ParseScoringType(s string) (ScoringType, bool) {
	st, ok := scoringAliases[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}

// AnalysisRequest asks whether a player should start against an opponent.
// It is immutable once submitted and lives only as a task payload.
type AnalysisRequest struct {
	PlayerID    string      `json:"player_id"`
	OpponentID  string      `json:"opponent_id"`
	Location    string      `json:"location,omitempty"`
	ScoringType ScoringType `json:"scoring_type"`
	Bucket      Bucket      `json:"bucket"`
}

// Normalize returns the canonical form used for fingerprinting and execution.
// It fails with failure.ErrValidation when required fields are missing or the
// scoring type is unknown.
func (r AnalysisRequest) Normalize() (AnalysisRequest, error) {
	const op = "model.normalize"

	out := AnalysisRequest{
		PlayerID:   strings.TrimSpace(r.PlayerID),
		OpponentID: strings.ToUpper(strings.TrimSpace(r.OpponentID)),
		Location:   strings.ToLower(strings.Join(strings.Fields(r.Location), " ")),
		Bucket:     r.Bucket,
	}
	switch {
	case out.PlayerID == "":
		return AnalysisRequest{}, failure.Validation(op, "missing player_id")
	case out.OpponentID == "":
		return AnalysisRequest{}, failure.Validation(op, "missing opponent_id")
	}
	st, ok := ParseScoringType(string(r.ScoringType))
	if !ok {
		return AnalysisRequest{}, failure.Validation(op, "unknown scoring_type %q", r.ScoringType)
	}
	out.ScoringType = st
	return out, nil
}

// ComparisonRequest asks which of two players should fill one lineup slot.
type ComparisonRequest struct {
	First  AnalysisRequest `json:"first"`
	Second AnalysisRequest `json:"second"`
}

// Normalize normalizes both sides and rejects comparing a player with itself.
func (c ComparisonRequest) Normalize() (ComparisonRequest, error) {
	first, err := c.First.Normalize()
	if err != nil {
		return ComparisonRequest{}, err
	}
	second, err := c.Second.Normalize()
	if err != nil {
		return ComparisonRequest{}, err
	}
	if first.PlayerID == second.PlayerID {
		return ComparisonRequest{}, failure.Validation("model.normalize", "cannot compare player %q with itself", first.PlayerID)
	}
	return ComparisonRequest{First: first, Second: second}, nil
}
