// Package fingerprint derives deterministic dedup/cache keys from requests.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/startsit/internal/domain/model"
)

// version is mixed into every digest so a change to canonical encoding
// never collides with entries written by an older encoding.
const version = "v1"

// Of returns the fingerprint of a normalized payload. Callers must normalize
// the payload first; Of does not re-normalize.
func Of(p model.Payload) string {
	var b strings.Builder
	b.WriteString(version)
	b.WriteByte('|')
	b.WriteString(string(p.Category))
	switch p.Category {
	case model.CategoryMatchup:
		if p.Matchup != nil {
			b.WriteByte('|')
			b.WriteString(canonical(*p.Matchup))
		}
	case model.CategoryComparison:
		if p.Comparison != nil {
			// Order-insensitive: A vs B and B vs A share one computation.
			sides := []string{canonical(p.Comparison.First), canonical(p.Comparison.Second)}
			sort.Strings(sides)
			b.WriteByte('|')
			b.WriteString(strings.Join(sides, "||"))
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// OfRequest is a convenience for single-player matchups.
func OfRequest(r model.AnalysisRequest) string {
	return Of(model.MatchupPayload(r))
}

func canonical(r model.AnalysisRequest) string {
	fields := []string{
		"player=" + r.PlayerID,
		"opponent=" + r.OpponentID,
		"location=" + r.Location,
		"scoring=" + string(r.ScoringType),
		"season=" + strconv.Itoa(r.Bucket.Season),
		"week=" + strconv.Itoa(r.Bucket.Week),
	}
	return strings.Join(fields, ";")
}
