// Package repository persists task records and results. Results are indexed
// by task id and by request fingerprint and expire after their TTL.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/startsit/internal/domain/model"
)

// Store provides read/write access to tasks and results. All mutations are
// atomic per call; no caller holds a lock across calls.
type Store interface {
	// CreateTask inserts a new task. Returns ErrExists if the id is taken.
	CreateTask(ctx context.Context, t model.Task) error

	// GetTask returns the task or ErrNotFound.
	GetTask(ctx context.Context, id string) (model.Task, error)

	// UpdateTask replaces a non-terminal task. The state change must be a
	// legal transition; terminal tasks are immutable (ErrTerminal).
	UpdateTask(ctx context.Context, t model.Task) error

	// DeleteTask removes a task record, e.g. one that lost a dedup race.
	DeleteTask(ctx context.Context, id string) error

	// CompleteTask atomically moves t to its terminal state and, for
	// SUCCESS, stores result under both the task id and fingerprint with ttl.
	// Replaying a completion is a no-op that reports applied=false.
	CompleteTask(ctx context.Context, t model.Task, result *model.Result, ttl time.Duration) (applied bool, err error)

	// ResultByTask returns the unexpired result produced by a task.
	ResultByTask(ctx context.Context, id string) (model.StoredResult, error)

	// ResultByFingerprint returns the unexpired result cached for fp.
	ResultByFingerprint(ctx context.Context, fp string) (model.StoredResult, error)

	// RequestCancel flags a running task for cooperative cancellation.
	RequestCancel(ctx context.Context, id string) error

	// CancelRequested reports whether RequestCancel was called for id.
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// checkTransition validates moving a stored task from cur to next.
// Rewriting a non-terminal task in place (same state) is allowed.
func checkTransition(cur, next model.TaskState) error {
	if cur.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, cur)
	}
	if cur == next || cur.CanTransition(next) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur, next)
}

var allStates = []model.TaskState{ //nolint:gochecknoglobals // state table
	model.StatePending, model.StateStarted, model.StateRetry, model.StateSuccess, model.StateFailure,
}

// allowedFrom lists the stored states from which next may be written.
func allowedFrom(next model.TaskState) []string {
	var out []string
	for _, s := range allStates {
		if checkTransition(s, next) == nil {
			out = append(out, string(s))
		}
	}
	return out
}

func storedResult(t model.Task, r model.Result, now time.Time, ttl time.Duration) model.StoredResult {
	return model.StoredResult{
		TaskID:      t.ID,
		Fingerprint: t.Fingerprint,
		Result:      r,
		StoredAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
}

func validateCompletion(t model.Task, result *model.Result) error {
	if !t.State.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrNotTerminal, t.State)
	}
	if t.State == model.StateSuccess && result == nil {
		return fmt.Errorf("%w: SUCCESS without result", ErrNotTerminal)
	}
	return nil
}
