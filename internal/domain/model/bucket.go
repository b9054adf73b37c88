package model

import "time"

const (
	// MaxRegularSeasonWeek is the last week a bucket can resolve to.
	MaxRegularSeasonWeek = 18
	weekDuration         = 7 * 24 * time.Hour
)

// Bucket is the implicit time window a request is analysed for.
type Bucket struct {
	Season int `json:"season"`
	Week   int `json:"week"`
}

// BucketAt resolves the week of season that now falls into. Weeks start at
// seasonStart and are clamped to [1, MaxRegularSeasonWeek].
func BucketAt(now, seasonStart time.Time, season int) Bucket {
	week := 1
	if now.After(seasonStart) {
		week = int(now.Sub(seasonStart)/weekDuration) + 1
	}
	if week > MaxRegularSeasonWeek {
		week = MaxRegularSeasonWeek
	}
	return Bucket{Season: season, Week: week}
}

// Kickoff returns the start of the bucket's week.
func (b Bucket) Kickoff(seasonStart time.Time) time.Time {
	return seasonStart.Add(time.Duration(b.Week-1) * weekDuration)
}
