package scoring

import (
	"fmt"
	"math"

	"github.com/okian/startsit/internal/domain/model"
)

const (
	maxTrendSwing = 30.0

	highSnapShare   = 0.8
	lowSnapShare    = 0.5
	snapShareBonus  = 10.0
	highTargetShare = 0.25
	targetBonus     = 5.0
	redZoneTouches  = 3
	redZoneBonus    = 5.0
)

// AdvancedStats scores recent usage and production trend.
func AdvancedStats(h model.History) model.ScoreComponent {
	value := Neutral
	var rationale []string

	if len(h.RecentPoints) > 0 {
		recent := Mean(h.RecentPoints)
		trend := (recent - h.SeasonAverage) / math.Max(h.SeasonAverage, 1) * 100
		trend = math.Max(-maxTrendSwing, math.Min(maxTrendSwing, trend))
		value += trend
		rationale = append(rationale, fmt.Sprintf("last %d games avg %.1f vs season %.1f (%+.1f)",
			len(h.RecentPoints), recent, h.SeasonAverage, trend))
	}

	switch {
	case h.SnapShare > highSnapShare:
		value += snapShareBonus
		rationale = append(rationale, fmt.Sprintf("snap share %.0f%% (+%.0f)", h.SnapShare*100, snapShareBonus))
	case h.SnapShare > 0 && h.SnapShare < lowSnapShare:
		value -= snapShareBonus
		rationale = append(rationale, fmt.Sprintf("snap share %.0f%% (-%.0f)", h.SnapShare*100, snapShareBonus))
	}
	if h.TargetShare > highTargetShare {
		value += targetBonus
		rationale = append(rationale, fmt.Sprintf("target share %.0f%% (+%.0f)", h.TargetShare*100, targetBonus))
	}
	if h.RedZoneTouches >= redZoneTouches {
		value += redZoneBonus
		rationale = append(rationale, fmt.Sprintf("%d red-zone touches (+%.0f)", h.RedZoneTouches, redZoneBonus))
	}
	if len(rationale) == 0 {
		rationale = append(rationale, "no usage signals, neutral trend")
	}
	return component(model.ComponentAdvancedStats, value, rationale...)
}

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}
