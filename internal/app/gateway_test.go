package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/startsit/internal/adapters/mq/queue"
	"github.com/okian/startsit/internal/adapters/repository"
	service "github.com/okian/startsit/internal/app"
	"github.com/okian/startsit/internal/domain/dedupe"
	"github.com/okian/startsit/internal/domain/failure"
	"github.com/okian/startsit/internal/domain/fingerprint"
	"github.com/okian/startsit/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type gatewayRig struct {
	clock    *clock
	store    *repository.MemoryStore
	registry dedupe.Registry
	queue    *queue.InMemoryQueue
	archive  *memArchive
	gateway  *service.Gateway
}

// newGatewayRig builds a gateway with no workers, so submitted tasks stay put.
func newGatewayRig() *gatewayRig {
	c := newClock()
	r := &gatewayRig{
		clock:    c,
		store:    repository.NewMemoryStore(repository.WithClock(c.Now)),
		registry: dedupe.NewInMemoryRegistry(),
		queue:    queue.NewInMemoryQueue(queue.WithClock(c.Now)),
		archive:  newMemArchive(),
	}
	r.gateway = service.NewGateway(r.store, r.registry, r.queue,
		service.WithGatewaySeason(2025, seasonStart),
		service.WithGatewayClock(c.Now),
		service.WithGatewayArchiver(r.archive),
	)
	return r
}

func (r *gatewayRig) fingerprintOf(req model.AnalysisRequest) string {
	norm, err := req.Normalize()
	So(err, ShouldBeNil)
	norm.Bucket = r.gateway.Bucket()
	return fingerprint.OfRequest(norm)
}

func (r *gatewayRig) queued(name string) int {
	n, err := r.queue.Len(context.Background(), name)
	So(err, ShouldBeNil)
	return n
}

func scenario() model.AnalysisRequest {
	return model.AnalysisRequest{PlayerID: "123", OpponentID: "SF", Location: "Santa Clara, CA"}
}

func TestGatewaySubmit(t *testing.T) {
	ctx := context.Background()

	Convey("Given a gateway over in-memory backends", t, func() {
		r := newGatewayRig()

		Convey("When a request is submitted", func() {
			h, err := r.gateway.Submit(ctx, scenario())
			So(err, ShouldBeNil)

			Convey("Then a PENDING task is created and queued", func() {
				So(h.Status, ShouldEqual, service.StatusQueued)
				So(h.Queue, ShouldEqual, service.QueueMatchups)
				So(h.Duplicate, ShouldBeFalse)
				task, err := r.store.GetTask(ctx, h.TaskID)
				So(err, ShouldBeNil)
				So(task.State, ShouldEqual, model.StatePending)
				So(task.Payload.Matchup.Bucket, ShouldResemble, model.Bucket{Season: 2025, Week: 3})
				So(task.Fingerprint, ShouldEqual, r.fingerprintOf(scenario()))
				So(r.queued(service.QueueMatchups), ShouldEqual, 1)
			})

			Convey("Then resubmitting the same request returns the same task", func() {
				again, err := r.gateway.Submit(ctx, model.AnalysisRequest{PlayerID: " 123", OpponentID: "sf", Location: "santa clara,  ca"})
				So(err, ShouldBeNil)
				So(again.TaskID, ShouldEqual, h.TaskID)
				So(again.Duplicate, ShouldBeTrue)
				So(r.queued(service.QueueMatchups), ShouldEqual, 1)
			})

			Convey("Then a different scoring type is a different task", func() {
				req := scenario()
				req.ScoringType = "half"
				other, err := r.gateway.Submit(ctx, req)
				So(err, ShouldBeNil)
				So(other.TaskID, ShouldNotEqual, h.TaskID)
			})
		})

		Convey("When N submitters race on one fingerprint", func() {
			const n = 50
			var (
				wg  sync.WaitGroup
				ids = make([]string, n)
			)
			for i := range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					h, err := r.gateway.Submit(ctx, scenario())
					if err == nil {
						ids[i] = h.TaskID
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one task exists and every caller holds its id", func() {
				for _, id := range ids {
					So(id, ShouldEqual, ids[0])
				}
				tasks, _ := r.store.Counts()
				So(tasks, ShouldEqual, 1)
				So(r.queued(service.QueueMatchups), ShouldEqual, 1)
				size, _ := r.registry.Size(ctx)
				So(size, ShouldEqual, 1)
			})
		})

		Convey("When required fields are missing", func() {
			_, err := r.gateway.Submit(ctx, model.AnalysisRequest{PlayerID: "123"})

			Convey("Then a validation error is returned and nothing is queued", func() {
				So(errors.Is(err, failure.ErrValidation), ShouldBeTrue)
				So(r.queued(service.QueueMatchups), ShouldEqual, 0)
			})
		})

		Convey("When the registry names an owner that no longer exists", func() {
			fp := r.fingerprintOf(scenario())
			_, claimed, err := r.registry.Claim(ctx, fp, "ghost")
			So(err, ShouldBeNil)
			So(claimed, ShouldBeTrue)

			Convey("Then the stale claim is replaced by a new task", func() {
				h, err := r.gateway.Submit(ctx, scenario())
				So(err, ShouldBeNil)
				So(h.Duplicate, ShouldBeFalse)
				So(h.TaskID, ShouldNotEqual, "ghost")
				owner, _, _ := r.registry.Owner(ctx, fp)
				So(owner, ShouldEqual, h.TaskID)
			})
		})

		Convey("When the owner finished without releasing its claim", func() {
			first, err := r.gateway.Submit(ctx, scenario())
			So(err, ShouldBeNil)
			task, _ := r.store.GetTask(ctx, first.TaskID)
			task.State = model.StateFailure
			task.Error = "boom"
			_, err = r.store.CompleteTask(ctx, task, nil, time.Hour)
			So(err, ShouldBeNil)

			Convey("Then a new task is created", func() {
				h, err := r.gateway.Submit(ctx, scenario())
				So(err, ShouldBeNil)
				So(h.Duplicate, ShouldBeFalse)
				So(h.TaskID, ShouldNotEqual, first.TaskID)
			})
		})

		Convey("When the queue backend is unavailable", func() {
			So(r.queue.Close(), ShouldBeNil)
			_, err := r.gateway.Submit(ctx, scenario())

			Convey("Then the call fails with no partial state", func() {
				So(errors.Is(err, failure.ErrQueueUnavailable), ShouldBeTrue)
				tasks, _ := r.store.Counts()
				So(tasks, ShouldEqual, 0)
				size, _ := r.registry.Size(ctx)
				So(size, ShouldEqual, 0)
			})
		})

		Convey("When a fresh result is cached for the fingerprint", func() {
			first, err := r.gateway.Submit(ctx, scenario())
			So(err, ShouldBeNil)
			task, _ := r.store.GetTask(ctx, first.TaskID)
			task.State = model.StateSuccess
			res := model.Result{Category: model.CategoryMatchup, Matchup: &model.AnalysisResult{PlayerID: "123", CompositeScore: 72}}
			_, err = r.store.CompleteTask(ctx, task, &res, time.Hour)
			So(err, ShouldBeNil)
			So(r.registry.Release(ctx, task.Fingerprint, task.ID), ShouldBeNil)

			Convey("Then it is served without a new task", func() {
				h, err := r.gateway.Submit(ctx, scenario())
				So(err, ShouldBeNil)
				So(h.Status, ShouldEqual, service.StatusCached)
				So(h.TaskID, ShouldEqual, first.TaskID)
				So(h.Result.Matchup.CompositeScore, ShouldEqual, 72)
			})

			Convey("Then once it expires a new task is queued", func() {
				r.clock.Advance(2 * time.Hour)
				h, err := r.gateway.Submit(ctx, scenario())
				So(err, ShouldBeNil)
				So(h.Status, ShouldEqual, service.StatusQueued)
				So(h.TaskID, ShouldNotEqual, first.TaskID)
			})
		})
	})
}

func TestGatewayClaimOwnership(t *testing.T) {
	ctx := context.Background()

	Convey("Given a task that has been waiting a long time", t, func() {
		r := newGatewayRig()
		first, err := r.gateway.Submit(ctx, scenario())
		So(err, ShouldBeNil)

		Convey("When it is still queued past the stale window", func() {
			r.clock.Advance(service.DefaultStaleAfter + time.Minute)
			again, err := r.gateway.Submit(ctx, scenario())
			So(err, ShouldBeNil)

			Convey("Then the resubmission joins it", func() {
				So(again.TaskID, ShouldEqual, first.TaskID)
				So(again.Duplicate, ShouldBeTrue)
				So(r.queued(service.QueueMatchups), ShouldEqual, 1)
			})
		})

		Convey("When it is waiting out a retry backoff", func() {
			task, _ := r.store.GetTask(ctx, first.TaskID)
			task.State = model.StateStarted
			task.Attempts = 1
			So(r.store.UpdateTask(ctx, task), ShouldBeNil)
			task.State = model.StateRetry
			So(r.store.UpdateTask(ctx, task), ShouldBeNil)
			r.clock.Advance(time.Hour)

			again, err := r.gateway.Submit(ctx, scenario())
			So(err, ShouldBeNil)

			Convey("Then the resubmission joins it", func() {
				So(again.TaskID, ShouldEqual, first.TaskID)
				So(again.Duplicate, ShouldBeTrue)
			})
		})

		Convey("When it started and its worker is still writing", func() {
			r.clock.Advance(time.Hour)
			task, _ := r.store.GetTask(ctx, first.TaskID)
			task.State = model.StateStarted
			task.UpdatedAt = r.clock.Now()
			So(r.store.UpdateTask(ctx, task), ShouldBeNil)
			r.clock.Advance(time.Minute)

			again, err := r.gateway.Submit(ctx, scenario())
			So(err, ShouldBeNil)

			Convey("Then the resubmission joins it", func() {
				So(again.TaskID, ShouldEqual, first.TaskID)
			})
		})

		Convey("When it started and its worker went quiet", func() {
			task, _ := r.store.GetTask(ctx, first.TaskID)
			task.State = model.StateStarted
			task.UpdatedAt = r.clock.Now()
			So(r.store.UpdateTask(ctx, task), ShouldBeNil)
			_, _ = r.queue.Remove(ctx, task.Queue, task.ID)
			r.clock.Advance(service.DefaultStaleAfter + time.Second)

			again, err := r.gateway.Submit(ctx, scenario())
			So(err, ShouldBeNil)

			Convey("Then the lost task is failed and a new one owns the fingerprint", func() {
				So(again.Duplicate, ShouldBeFalse)
				So(again.TaskID, ShouldNotEqual, first.TaskID)

				lost, _ := r.store.GetTask(ctx, first.TaskID)
				So(lost.State, ShouldEqual, model.StateFailure)
				So(lost.Error, ShouldStartWith, "worker lost")
				So(r.archive.Len(), ShouldEqual, 1)

				owner, _, _ := r.registry.Owner(ctx, task.Fingerprint)
				So(owner, ShouldEqual, again.TaskID)
				So(r.queued(service.QueueMatchups), ShouldEqual, 1)
			})
		})
	})
}

func TestGatewayComparison(t *testing.T) {
	ctx := context.Background()

	Convey("Given a comparison submission", t, func() {
		r := newGatewayRig()
		a := model.AnalysisRequest{PlayerID: "123", OpponentID: "SF"}
		b := model.AnalysisRequest{PlayerID: "456", OpponentID: "MIA"}

		h, err := r.gateway.SubmitComparison(ctx, model.ComparisonRequest{First: a, Second: b})
		So(err, ShouldBeNil)

		Convey("Then it is routed to the analysis queue", func() {
			So(h.Queue, ShouldEqual, service.QueueAnalysis)
			So(r.queued(service.QueueAnalysis), ShouldEqual, 1)
		})

		Convey("Then the swapped order is the same computation", func() {
			again, err := r.gateway.SubmitComparison(ctx, model.ComparisonRequest{First: b, Second: a})
			So(err, ShouldBeNil)
			So(again.TaskID, ShouldEqual, h.TaskID)
		})

		Convey("Then comparing a player with itself is rejected", func() {
			_, err := r.gateway.SubmitComparison(ctx, model.ComparisonRequest{First: a, Second: a})
			So(errors.Is(err, failure.ErrValidation), ShouldBeTrue)
		})
	})

	Convey("Given raw JSON submissions", t, func() {
		r := newGatewayRig()

		h, err := r.gateway.SubmitJSON(ctx, model.CategoryMatchup, []byte(`{"player_id":"123","opponent_id":"SF"}`))
		So(err, ShouldBeNil)
		So(h.Status, ShouldEqual, service.StatusQueued)

		_, err = r.gateway.SubmitJSON(ctx, model.CategoryMatchup, []byte(`{"player_id":"123"}`))
		So(errors.Is(err, failure.ErrValidation), ShouldBeTrue)
	})
}

func TestGatewayCancel(t *testing.T) {
	ctx := context.Background()

	Convey("Given a queued task", t, func() {
		r := newGatewayRig()
		h, err := r.gateway.Submit(ctx, scenario())
		So(err, ShouldBeNil)

		Convey("When it is cancelled before starting", func() {
			out, err := r.gateway.Cancel(ctx, h.TaskID)
			So(err, ShouldBeNil)

			Convey("Then it is removed, failed and its fingerprint freed", func() {
				So(out.Cancelled, ShouldBeTrue)
				So(out.State, ShouldEqual, model.StateFailure)
				So(r.queued(service.QueueMatchups), ShouldEqual, 0)
				task, _ := r.store.GetTask(ctx, h.TaskID)
				So(task.Error, ShouldEqual, "cancelled")
				size, _ := r.registry.Size(ctx)
				So(size, ShouldEqual, 0)
				So(r.archive.Len(), ShouldEqual, 1)
			})

			Convey("Then a later submission starts from scratch", func() {
				again, err := r.gateway.Submit(ctx, scenario())
				So(err, ShouldBeNil)
				So(again.TaskID, ShouldNotEqual, h.TaskID)
			})

			Convey("Then cancelling again is a no-op", func() {
				out, err := r.gateway.Cancel(ctx, h.TaskID)
				So(err, ShouldBeNil)
				So(out.Cancelled, ShouldBeFalse)
				So(out.State, ShouldEqual, model.StateFailure)
			})
		})

		Convey("When it is already running", func() {
			task, _ := r.store.GetTask(ctx, h.TaskID)
			task.State = model.StateStarted
			So(r.store.UpdateTask(ctx, task), ShouldBeNil)
			_, _ = r.queue.Remove(ctx, task.Queue, task.ID)

			Convey("Then cancellation is only requested", func() {
				out, err := r.gateway.Cancel(ctx, h.TaskID)
				So(err, ShouldBeNil)
				So(out.Requested, ShouldBeTrue)
				So(out.Cancelled, ShouldBeFalse)
				So(out.State, ShouldEqual, model.StateStarted)
				flagged, _ := r.store.CancelRequested(ctx, h.TaskID)
				So(flagged, ShouldBeTrue)
			})
		})

		Convey("When the id is unknown", func() {
			_, err := r.gateway.Cancel(ctx, "nope")
			So(errors.Is(err, failure.ErrNotFound), ShouldBeTrue)
		})
	})
}
