package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/startsit/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 10, 12, 17, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// factory returns a fresh store and a function that moves its time forward.
type factory func(t *testing.T) (Store, func(time.Duration))

func pendingTask(id, fp string) model.Task {
	req := model.AnalysisRequest{PlayerID: "123", OpponentID: "SF", ScoringType: model.ScoringPPR}
	return model.Task{
		ID:          id,
		Fingerprint: fp,
		Queue:       "matchups",
		State:       model.StatePending,
		Payload:     model.MatchupPayload(req),
	}
}

func sampleResult() *model.Result {
	return &model.Result{
		Category: model.CategoryMatchup,
		Matchup: &model.AnalysisResult{
			PlayerID:       "123",
			OpponentID:     "SF",
			CompositeScore: 64.5,
			Recommendation: model.RecommendConsider,
		},
	}
}

func runStoreContract(t *testing.T, name string, newStore factory) {
	ctx := context.Background()

	Convey("Given a "+name+" store", t, func() {
		s, advance := newStore(t)
		task := pendingTask("t1", "fp1")
		So(s.CreateTask(ctx, task), ShouldBeNil)

		Convey("When the task is created twice", func() {
			So(s.CreateTask(ctx, task), ShouldEqual, ErrExists)
		})

		Convey("When reading it back", func() {
			got, err := s.GetTask(ctx, "t1")
			So(err, ShouldBeNil)
			So(got.State, ShouldEqual, model.StatePending)
			So(got.Payload.Matchup.OpponentID, ShouldEqual, "SF")

			_, err = s.GetTask(ctx, "missing")
			So(err, ShouldEqual, ErrNotFound)
		})

		Convey("When walking the retry cycle", func() {
			task.State = model.StateStarted
			task.Attempts = 1
			So(s.UpdateTask(ctx, task), ShouldBeNil)
			task.State = model.StateRetry
			So(s.UpdateTask(ctx, task), ShouldBeNil)
			task.State = model.StateStarted
			task.Attempts = 2
			So(s.UpdateTask(ctx, task), ShouldBeNil)

			got, _ := s.GetTask(ctx, "t1")
			So(got.Attempts, ShouldEqual, 2)
		})

		Convey("When a transition skips a state", func() {
			task.State = model.StateRetry
			err := s.UpdateTask(ctx, task)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "illegal state transition")
		})

		Convey("When completing with a result", func() {
			task.State = model.StateStarted
			So(s.UpdateTask(ctx, task), ShouldBeNil)
			task.State = model.StateSuccess

			applied, err := s.CompleteTask(ctx, task, sampleResult(), time.Hour)
			So(err, ShouldBeNil)
			So(applied, ShouldBeTrue)

			Convey("Then the result is indexed by task and fingerprint", func() {
				byTask, err := s.ResultByTask(ctx, "t1")
				So(err, ShouldBeNil)
				So(byTask.Result.Matchup.CompositeScore, ShouldEqual, 64.5)
				byFP, err := s.ResultByFingerprint(ctx, "fp1")
				So(err, ShouldBeNil)
				So(byFP.TaskID, ShouldEqual, "t1")
			})

			Convey("Then replaying the completion changes nothing", func() {
				other := sampleResult()
				other.Matchup.CompositeScore = 1
				applied, err := s.CompleteTask(ctx, task, other, time.Hour)
				So(err, ShouldBeNil)
				So(applied, ShouldBeFalse)

				r, _ := s.ResultByTask(ctx, "t1")
				So(r.Result.Matchup.CompositeScore, ShouldEqual, 64.5)
			})

			Convey("Then the terminal task is immutable", func() {
				task.State = model.StateFailure
				So(errors.Is(s.UpdateTask(ctx, task), ErrTerminal), ShouldBeTrue)
			})

			Convey("Then the result expires after its TTL", func() {
				advance(time.Hour + time.Second)
				_, err := s.ResultByFingerprint(ctx, "fp1")
				So(err, ShouldEqual, ErrNotFound)
				_, err = s.ResultByTask(ctx, "t1")
				So(err, ShouldEqual, ErrNotFound)

				got, err := s.GetTask(ctx, "t1")
				So(err, ShouldBeNil)
				So(got.State, ShouldEqual, model.StateSuccess)
			})
		})

		Convey("When completing as failure", func() {
			task.State = model.StateFailure
			task.Error = "boom"
			applied, err := s.CompleteTask(ctx, task, nil, time.Hour)
			So(err, ShouldBeNil)
			So(applied, ShouldBeTrue)

			_, err = s.ResultByTask(ctx, "t1")
			So(err, ShouldEqual, ErrNotFound)
			got, _ := s.GetTask(ctx, "t1")
			So(got.Error, ShouldEqual, "boom")
		})

		Convey("When completing with a non-terminal state", func() {
			_, err := s.CompleteTask(ctx, task, nil, time.Hour)
			So(err, ShouldNotBeNil)
			task.State = model.StateSuccess
			_, err = s.CompleteTask(ctx, task, nil, time.Hour)
			So(err, ShouldNotBeNil)
		})

		Convey("When the task is deleted", func() {
			So(s.DeleteTask(ctx, "t1"), ShouldBeNil)
			_, err := s.GetTask(ctx, "t1")
			So(err, ShouldEqual, ErrNotFound)
		})

		Convey("When cancellation is requested", func() {
			ok, err := s.CancelRequested(ctx, "t1")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			So(s.RequestCancel(ctx, "t1"), ShouldBeNil)
			ok, _ = s.CancelRequested(ctx, "t1")
			So(ok, ShouldBeTrue)
		})

		Convey("When many workers complete the same task concurrently", func() {
			task.State = model.StateStarted
			So(s.UpdateTask(ctx, task), ShouldBeNil)
			task.State = model.StateSuccess

			var applied atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if ok, err := s.CompleteTask(ctx, task, sampleResult(), time.Hour); err == nil && ok {
						applied.Add(1)
					}
				}()
			}
			wg.Wait()
			So(applied.Load(), ShouldEqual, 1)
		})
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, "memory", func(t *testing.T) (Store, func(time.Duration)) {
		clock := newTestClock()
		return NewMemoryStore(WithClock(clock.Now), WithRetention(24*time.Hour)), clock.Advance
	})
}

func TestMemoryStoreEviction(t *testing.T) {
	ctx := context.Background()

	Convey("Given a memory store with short retention", t, func() {
		clock := newTestClock()
		s := NewMemoryStore(WithClock(clock.Now), WithRetention(time.Hour))

		for i := 0; i < 3; i++ {
			task := pendingTask(fmt.Sprintf("t%d", i), fmt.Sprintf("fp%d", i))
			So(s.CreateTask(ctx, task), ShouldBeNil)
			task.State = model.StateSuccess
			_, err := s.CompleteTask(ctx, task, sampleResult(), 10*time.Minute)
			So(err, ShouldBeNil)
		}
		tasks, results := s.Counts()
		So(tasks, ShouldEqual, 3)
		So(results, ShouldEqual, 3)

		Convey("When results expire", func() {
			clock.Advance(11 * time.Minute)

			Convey("Then eviction drops results but keeps task records", func() {
				So(s.Evict(), ShouldEqual, 6)
				tasks, results := s.Counts()
				So(tasks, ShouldEqual, 3)
				So(results, ShouldEqual, 0)
			})
		})

		Convey("When task retention passes", func() {
			clock.Advance(2 * time.Hour)
			s.Evict()

			Convey("Then the ids may be reused", func() {
				So(s.CreateTask(ctx, pendingTask("t0", "fp0")), ShouldBeNil)
			})
		})

		Convey("When the evict loop runs", func() {
			clock.Advance(2 * time.Hour)
			loopCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				s.EvictLoop(loopCtx, 5*time.Millisecond)
				close(done)
			}()
			time.Sleep(30 * time.Millisecond)
			cancel()
			<-done

			tasks, _ := s.Counts()
			So(tasks, ShouldEqual, 0)
			So(len(s.tasks), ShouldEqual, 0)
		})
	})
}

func TestAllowedFrom(t *testing.T) {
	Convey("Given the transition table", t, func() {
		So(allowedFrom(model.StateStarted), ShouldResemble, []string{"PENDING", "STARTED", "RETRY"})
		So(allowedFrom(model.StateRetry), ShouldResemble, []string{"STARTED", "RETRY"})
		So(allowedFrom(model.StateSuccess), ShouldResemble, []string{"STARTED"})
		So(allowedFrom(model.StateFailure), ShouldResemble, []string{"PENDING", "STARTED", "RETRY"})
	})
}
