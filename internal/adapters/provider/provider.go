// Package provider defines the data collaborators the analysis pipeline
// consumes and ships a fixture-backed implementation of them.
//
// Every call either returns a value or an error wrapping ErrUnavailable; the
// pipeline treats any error as "data unavailable" for that component.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/startsit/internal/domain/model"
)

// ErrUnavailable signals the collaborator could not supply the data.
var ErrUnavailable = errors.New("data source unavailable")

// Players supplies player bios and opponent defensive profiles.
type Players interface {
	Player(ctx context.Context, playerID string) (model.PlayerProfile, error)
	Defense(ctx context.Context, teamID string) (model.DefenseProfile, error)
}

// Weather supplies a forecast for a location at kickoff.
type Weather interface {
	Forecast(ctx context.Context, location string, kickoff time.Time) (model.Forecast, error)
}

// Injuries supplies the latest injury report.
type Injuries interface {
	Injury(ctx context.Context, playerID string) (model.InjuryReport, error)
}

// Histories supplies recent trend and variance.
type Histories interface {
	History(ctx context.Context, playerID string) (model.History, error)
}

// Set bundles one implementation of each collaborator.
type Set struct {
	Players   Players
	Weather   Weather
	Injuries  Injuries
	Histories Histories
}

// Validate reports a missing collaborator.
func (s Set) Validate() error {
	switch {
	case s.Players == nil:
		return errors.New("provider set: players is nil")
	case s.Weather == nil:
		return errors.New("provider set: weather is nil")
	case s.Injuries == nil:
		return errors.New("provider set: injuries is nil")
	case s.Histories == nil:
		return errors.New("provider set: histories is nil")
	}
	return nil
}

func unavailable(what, key string) error {
	return fmt.Errorf("%w: %s %q", ErrUnavailable, what, key)
}
