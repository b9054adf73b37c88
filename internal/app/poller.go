package service

import (
	"context"
	"errors"
	"time"

	"github.com/okian/startsit/internal/adapters/archive"
	"github.com/okian/startsit/internal/adapters/repository"
	"github.com/okian/startsit/internal/domain/failure"
	"github.com/okian/startsit/internal/domain/model"
)

// MsgResultExpired is reported for a SUCCESS task whose result has been evicted.
const MsgResultExpired = "result expired"

// Status is a point-in-time view of a task.
type Status struct {
	TaskID     string          `json:"task_id"`
	State      model.TaskState `json:"status"`
	Ready      bool            `json:"ready"`
	Successful *bool           `json:"successful"`
	Result     *model.Result   `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	Queue      string          `json:"queue"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Poller is a read-only lookup of task state. It never blocks on a task and
// never mutates anything.
type Poller struct {
	store    repository.Store
	archiver archive.Archiver
}

// NewPoller creates a poller. A nil archiver disables the archive fallback.
func NewPoller(store repository.Store, archiver archive.Archiver) *Poller {
	if archiver == nil {
		archiver = archive.Nop{}
	}
	return &Poller{store: store, archiver: archiver}
}

// Status returns the current state of id. Tasks no longer in the live store
// are looked up in the archive.
func (p *Poller) Status(ctx context.Context, id string) (Status, error) {
	const op = "poller.status"

	t, err := p.store.GetTask(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		at, res, aerr := p.archiver.Lookup(ctx, id)
		if aerr != nil {
			return Status{}, failure.NewKind(op, failure.ErrNotFound)
		}
		return statusOf(at, res), nil
	}
	if err != nil {
		return Status{}, failure.WrapKind(op, failure.ErrStoreUnavailable, err)
	}

	var res *model.Result
	if t.State == model.StateSuccess {
		stored, err := p.store.ResultByTask(ctx, id)
		switch {
		case err == nil:
			res = &stored.Result
		case errors.Is(err, repository.ErrNotFound):
			if _, ar, aerr := p.archiver.Lookup(ctx, id); aerr == nil {
				res = ar
			}
		default:
			return Status{}, failure.WrapKind(op, failure.ErrStoreUnavailable, err)
		}
	}
	return statusOf(t, res), nil
}

func statusOf(t model.Task, res *model.Result) Status {
	s := Status{
		TaskID:    t.ID,
		State:     t.State,
		Ready:     t.State.IsTerminal(),
		Attempts:  t.Attempts,
		Queue:     t.Queue,
		UpdatedAt: t.UpdatedAt,
	}
	if !s.Ready {
		return s
	}
	ok := t.State == model.StateSuccess
	s.Successful = &ok
	switch {
	case !ok:
		s.Error = t.Error
	case res == nil:
		s.Error = MsgResultExpired
	default:
		s.Result = res
	}
	return s
}
