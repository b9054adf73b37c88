package model

import (
	"errors"
	"time"
)

// TaskState is a task's position in its lifecycle.
type TaskState string

// Task states. SUCCESS and FAILURE are terminal.
const (
	StatePending TaskState = "PENDING"
	StateStarted TaskState = "STARTED"
	StateRetry   TaskState = "RETRY"
	StateSuccess TaskState = "SUCCESS"
	StateFailure TaskState = "FAILURE"
)

// IsTerminal reports whether no further transition can occur.
func (s TaskState) IsTerminal() bool {
	return s == StateSuccess || s == StateFailure
}

// CanTransition reports whether moving from s to next is legal. States only
// move forward, except for the STARTED -> RETRY -> STARTED cycle.
func (s TaskState) CanTransition(next TaskState) bool {
	switch s {
	case StatePending:
		return next == StateStarted || next == StateFailure
	case StateStarted:
		return next == StateRetry || next == StateSuccess || next == StateFailure
	case StateRetry:
		return next == StateStarted || next == StateFailure
	default:
		return false
	}
}

// Category selects the payload/result variant of a task.
type Category string

// Task categories.
const (
	CategoryMatchup    Category = "matchup"
	CategoryComparison Category = "comparison"
)

// ErrVariantMismatch is returned when a union's variant does not match its category.
var ErrVariantMismatch = errors.New("payload variant does not match category")

// Payload is the tagged union of task inputs.
type Payload struct {
	Category   Category           `json:"category"`
	Matchup    *AnalysisRequest   `json:"matchup,omitempty"`
	Comparison *ComparisonRequest `json:"comparison,omitempty"`
}

// MatchupPayload wraps a single-player request.
func MatchupPayload(r AnalysisRequest) Payload {
	return Payload{Category: CategoryMatchup, Matchup: &r}
}

// ComparisonPayload wraps a two-player request.
func ComparisonPayload(c ComparisonRequest) Payload {
	return Payload{Category: CategoryComparison, Comparison: &c}
}

// Check verifies exactly the variant named by Category is set.
func (p Payload) Check() error {
	switch p.Category {
	case CategoryMatchup:
		if p.Matchup == nil || p.Comparison != nil {
			return ErrVariantMismatch
		}
	case CategoryComparison:
		if p.Comparison == nil || p.Matchup != nil {
			return ErrVariantMismatch
		}
	default:
		return ErrVariantMismatch
	}
	return nil
}

// Result is the tagged union of task outputs.
type Result struct {
	Category   Category          `json:"category"`
	Matchup    *AnalysisResult   `json:"matchup,omitempty"`
	Comparison *ComparisonResult `json:"comparison,omitempty"`
}

// Task is the persisted unit of work.
type Task struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Queue       string    `json:"queue"`
	State       TaskState `json:"state"`
	Payload     Payload   `json:"payload"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StoredResult is a result as kept by the result store.
type StoredResult struct {
	TaskID      string    `json:"task_id"`
	Fingerprint string    `json:"fingerprint"`
	Result      Result    `json:"result"`
	StoredAt    time.Time `json:"stored_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Fresh reports whether the result has not yet expired at now.
func (r StoredResult) Fresh(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}
