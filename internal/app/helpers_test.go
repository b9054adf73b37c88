package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/okian/startsit/internal/adapters/archive"
	"github.com/okian/startsit/internal/adapters/provider"
	"github.com/okian/startsit/internal/domain/model"
	"github.com/okian/startsit/pkg/logger"
)

func init() {
	logger.InitDiscard()
}

var seasonStart = time.Date(2025, time.September, 4, 0, 0, 0, 0, time.UTC)

// clock is a settable time source shared by every component under test.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: seasonStart.Add(15 * 24 * time.Hour)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fixtures() provider.Fixtures {
	wr := map[model.Position]float64{model.PositionWR: 24, model.PositionRB: 18}
	avg := map[model.Position]float64{model.PositionWR: 20, model.PositionRB: 20}
	return provider.Fixtures{
		Players: map[string]model.PlayerProfile{
			"123": {Name: "Jordan Reyes", Position: model.PositionWR, GamesPlayed: 6, PointsPerGame: 14.2},
			"456": {Name: "Marcus Bell", Position: model.PositionRB, GamesPlayed: 6, PointsPerGame: 16.8},
		},
		Defenses: map[string]model.DefenseProfile{
			"SF":  {PointsAllowed: wr, LeagueAverage: avg, Rank: 5},
			"MIA": {PointsAllowed: wr, LeagueAverage: avg, Rank: 27},
		},
		Forecasts: map[string]model.Forecast{
			"santa clara, ca": {TempF: 68, WindMPH: 8, PrecipChance: 0.05},
		},
		Injuries: map[string]model.InjuryReport{
			"123": {Status: model.InjuryHealthy, Practice: model.PracticeFull},
			"456": {Status: model.InjuryQuestionable, Practice: model.PracticeLimited, BodyPart: "hamstring"},
		},
		Histories: map[string]model.History{
			"123": {RecentPoints: []float64{12, 18, 15, 21}, SeasonAverage: 14.2, StdDev: 4.1, SnapShare: 0.88, TargetShare: 0.24},
			"456": {RecentPoints: []float64{20, 14, 9, 17}, SeasonAverage: 16.8, StdDev: 5.5, SnapShare: 0.7, TargetShare: 0.1, RedZoneTouches: 9},
		},
	}
}

// memArchive is an in-memory archive.Archiver.
type memArchive struct {
	mu    sync.Mutex
	tasks map[string]model.Task
	res   map[string]*model.Result
}

func newMemArchive() *memArchive {
	return &memArchive{tasks: map[string]model.Task{}, res: map[string]*model.Result{}}
}

func (a *memArchive) Archive(_ context.Context, t model.Task, r *model.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks[t.ID] = t
	a.res[t.ID] = r
	return nil
}

func (a *memArchive) Lookup(_ context.Context, id string) (model.Task, *model.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	if !ok {
		return model.Task{}, nil, archive.ErrNotFound
	}
	return t, a.res[id], nil
}

func (a *memArchive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks)
}
