package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/startsit/internal/domain/model"
)

// Limited throttles every collaborator call through one token bucket shared
// by the whole Set. A wait that outlives ctx counts as unavailability.
type Limited struct {
	next    Set
	limiter *rate.Limiter
}

// NewLimited wraps next with rps requests per second and the given burst.
// rps <= 0 disables limiting.
func NewLimited(next Set, rps float64, burst int) *Limited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Set returns the limited collaborators.
func (l *Limited) Set() Set {
	return Set{Players: l, Weather: l, Injuries: l, Histories: l}
}

func (l *Limited) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limited: %w", ErrUnavailable, err)
	}
	return nil
}

func (l *Limited) Player(ctx context.Context, playerID string) (model.PlayerProfile, error) {
	if err := l.wait(ctx); err != nil {
		return model.PlayerProfile{}, err
	}
	return l.next.Players.Player(ctx, playerID)
}

func (l *Limited) Defense(ctx context.Context, teamID string) (model.DefenseProfile, error) {
	if err := l.wait(ctx); err != nil {
		return model.DefenseProfile{}, err
	}
	return l.next.Players.Defense(ctx, teamID)
}

func (l *Limited) Forecast(ctx context.Context, location string, kickoff time.Time) (model.Forecast, error) {
	if err := l.wait(ctx); err != nil {
		return model.Forecast{}, err
	}
	return l.next.Weather.Forecast(ctx, location, kickoff)
}

func (l *Limited) Injury(ctx context.Context, playerID string) (model.InjuryReport, error) {
	if err := l.wait(ctx); err != nil {
		return model.InjuryReport{}, err
	}
	return l.next.Injuries.Injury(ctx, playerID)
}

func (l *Limited) History(ctx context.Context, playerID string) (model.History, error) {
	if err := l.wait(ctx); err != nil {
		return model.History{}, err
	}
	return l.next.Histories.History(ctx, playerID)
}
