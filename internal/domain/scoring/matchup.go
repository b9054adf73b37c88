package scoring

import (
	"fmt"

	"github.com/okian/startsit/internal/domain/model"
)

const (
	matchupRatioWeight = 0.6
	matchupRankWeight  = 0.4
	leagueTeams        = 32
)

// Matchup scores how favourable the opponent defense is for the player's position.
// Points allowed relative to the league average and the defensive rank are blended;
// when only one signal is present it is used alone.
func Matchup(pos model.Position, def model.DefenseProfile) model.ScoreComponent {
	ratio, hasRatio := ratioScore(pos, def)
	rank, hasRank := rankScore(def.Rank)

	var rationale []string
	if hasRatio {
		allowed, avg := def.PointsAllowed[pos], def.LeagueAverage[pos]
		rationale = append(rationale, fmt.Sprintf("%s allows %.1f pts/g to %s vs league %.1f (%+.0f%%)",
			def.TeamID, allowed, pos, avg, (allowed/avg-1)*100))
	}
	if hasRank {
		rationale = append(rationale, fmt.Sprintf("%s defense ranks %d of %d", def.TeamID, def.Rank, leagueTeams))
	}

	switch {
	case hasRatio && hasRank:
		return component(model.ComponentMatchup, matchupRatioWeight*ratio+matchupRankWeight*rank, rationale...)
	case hasRatio:
		return component(model.ComponentMatchup, ratio, rationale...)
	case hasRank:
		return component(model.ComponentMatchup, rank, rationale...)
	default:
		return Fallback(model.ComponentMatchup)
	}
}

func ratioScore(pos model.Position, def model.DefenseProfile) (float64, bool) {
	allowed, ok := def.PointsAllowed[pos]
	if !ok {
		return 0, false
	}
	avg := def.LeagueAverage[pos]
	if avg <= 0 {
		return 0, false
	}
	return Clamp(Neutral + (allowed/avg-1)*100), true
}

// rankScore maps rank 1 (stingiest) to 0 and rank 32 to 100.
func rankScore(rank int) (float64, bool) {
	if rank < 1 || rank > leagueTeams {
		return 0, false
	}
	return float64(rank-1) / float64(leagueTeams-1) * MaxScore, true
}
