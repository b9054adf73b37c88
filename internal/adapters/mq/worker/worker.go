package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/startsit/internal/adapters/mq/queue"
	"github.com/okian/startsit/internal/adapters/repository"
	"github.com/okian/startsit/internal/domain/analysis"
	"github.com/okian/startsit/internal/domain/dedupe"
	"github.com/okian/startsit/internal/domain/failure"
	"github.com/okian/startsit/internal/domain/model"
	"github.com/okian/startsit/pkg/logger"
	"github.com/okian/startsit/pkg/metrics"
)

const dequeueErrorDelay = 250 * time.Millisecond

// Executor computes the result of one task payload. analysis.Pipeline is the
// production implementation.
type Executor interface {
	Execute(ctx context.Context, payload model.Payload, check analysis.Checkpoint) (model.Result, error)
}

// Worker processes tasks from its queues.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or Shutdown is called.
	Run(ctx context.Context)

	// Shutdown stops pulling new tasks and waits for the in-flight one. If
	// the drain timeout passes first, the in-flight task is aborted and put
	// back on its queue.
	Shutdown(ctx context.Context) error
}

// QueueWorker runs one task at a time. It only mutates tasks it dequeued.
type QueueWorker struct {
	queue    queue.Queue
	store    repository.Store
	registry dedupe.Registry
	exec     Executor
	cfg      settings

	started      atomic.Bool
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	mu      sync.Mutex
	abort   context.CancelFunc
	aborted bool

	logger logger.Logger
}

// NewQueueWorker creates a worker with configuration options.
func NewQueueWorker(q queue.Queue, store repository.Store, registry dedupe.Registry, exec Executor, opts ...Option) *QueueWorker {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	w := &QueueWorker{
		queue:    q,
		store:    store,
		registry: registry,
		exec:     exec,
		cfg:      cfg,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   cfg.logger,
	}
	if w.logger == nil {
		w.logger = logger.Get()
	}
	w.logger = w.logger.Named(cfg.name)
	return w
}

// Run starts the worker loop.
func (w *QueueWorker) Run(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	defer close(w.done)

	pullCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.shutdown:
			cancel()
		case <-pullCtx.Done():
		}
	}()

	for {
		msg, err := w.queue.Dequeue(pullCtx, w.cfg.queues...)
		if err != nil {
			if pullCtx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error(ctx, "dequeue failed", logger.Error(err))
			select {
			case <-time.After(dequeueErrorDelay):
				continue
			case <-pullCtx.Done():
				return
			}
		}

		metrics.WorkerBusy(w.cfg.group)
		w.process(ctx, msg)
		metrics.WorkerIdle(w.cfg.group)
	}
}

// Shutdown gracefully stops the worker.
func (w *QueueWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	if !w.started.Load() {
		return nil
	}

	drain := time.NewTimer(w.cfg.drainTimeout)
	defer drain.Stop()

	select {
	case <-w.done:
		return nil
	case <-drain.C:
	case <-ctx.Done():
	}

	w.logger.Warn(ctx, "drain timed out, aborting in-flight task")
	w.mu.Lock()
	w.aborted = true
	if w.abort != nil {
		w.abort()
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed once Run has returned.
func (w *QueueWorker) Done() <-chan struct{} { return w.done }

// process handles one dequeued task. Store calls after execution run on a
// context detached from cancellation so a shutdown cannot lose the outcome.
func (w *QueueWorker) process(ctx context.Context, msg queue.Message) {
	ctx = context.WithoutCancel(ctx)
	log := w.logger.With(logger.TaskID(msg.TaskID), logger.String("queue", msg.Queue))

	t, err := w.store.GetTask(ctx, msg.TaskID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		log.Warn(ctx, "dropping unknown task")
		return
	case err != nil:
		log.Error(ctx, "load task failed, requeueing", logger.Error(err))
		w.requeue(ctx, log, msg, w.cfg.backoffBase)
		return
	case t.State.IsTerminal():
		log.Debug(ctx, "skipping terminal task", logger.String("state", string(t.State)))
		return
	}

	t.State = model.StateStarted
	t.Attempts++
	t.UpdatedAt = w.cfg.now()
	if err := w.store.UpdateTask(ctx, t); err != nil {
		if errors.Is(err, repository.ErrTerminal) {
			log.Debug(ctx, "task finished before start")
			return
		}
		log.Error(ctx, "mark started failed, requeueing", logger.Error(err))
		w.requeue(ctx, log, msg, w.cfg.backoffBase)
		return
	}
	log = log.With(logger.Int("attempt", t.Attempts))
	log.Debug(ctx, "task started")
	metrics.RecordTaskStarted(msg.Queue)

	start := time.Now()
	result, runErr := w.run(ctx, t)
	metrics.RecordTaskDuration(msg.Queue, float64(time.Since(start).Milliseconds()))

	w.finish(ctx, log, t, result, runErr)
}

// run executes one attempt under the task timeout.
func (w *QueueWorker) run(ctx context.Context, t model.Task) (model.Result, error) {
	base, abort := context.WithCancel(ctx)
	w.mu.Lock()
	if w.aborted {
		abort()
	}
	w.abort = abort
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.abort = nil
		w.mu.Unlock()
		abort()
	}()

	runCtx, cancel := context.WithTimeout(base, w.cfg.taskTimeout)
	defer cancel()

	res, err := w.exec.Execute(runCtx, t.Payload, w.checkpoint(t.ID))
	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, failure.ErrTaskTimeout) {
		err = failure.WrapKind("worker.run", failure.ErrTaskTimeout, err)
	}
	return res, err
}

func (w *QueueWorker) checkpoint(id string) analysis.Checkpoint {
	return func(ctx context.Context) error {
		cancelled, err := w.store.CancelRequested(ctx, id)
		if err != nil {
			// best effort; the next stage asks again
			return nil
		}
		if cancelled {
			return failure.NewKind("worker.checkpoint", failure.ErrCancelled)
		}
		return nil
	}
}

func (w *QueueWorker) isAborted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.aborted
}

// finish records the attempt's outcome: SUCCESS, a scheduled RETRY, or FAILURE.
func (w *QueueWorker) finish(ctx context.Context, log logger.Logger, t model.Task, result model.Result, runErr error) {
	t.UpdatedAt = w.cfg.now()

	switch {
	case runErr == nil:
		t.State = model.StateSuccess
		t.Error = ""
		w.complete(ctx, log, t, &result)

	case errors.Is(runErr, failure.ErrCancelled):
		t.State = model.StateFailure
		t.Error = failure.ErrCancelled.Error()
		metrics.RecordTaskCancelled()
		w.complete(ctx, log, t, nil)

	case w.isAborted():
		// Interrupted by shutdown; the attempt does not count.
		t.State = model.StateRetry
		t.Attempts--
		t.Error = "interrupted by shutdown"
		if err := w.store.UpdateTask(ctx, t); err != nil {
			log.Error(ctx, "mark interrupted task failed", logger.Error(err))
		}
		w.requeue(ctx, log, queue.Message{Queue: t.Queue, TaskID: t.ID}, 0)

	case failure.IsTransient(runErr) && t.Attempts <= w.cfg.maxRetries:
		t.State = model.StateRetry
		t.Error = runErr.Error()
		if err := w.store.UpdateTask(ctx, t); err != nil {
			log.Error(ctx, "mark retry failed", logger.Error(err))
			if errors.Is(err, repository.ErrTerminal) {
				return
			}
		}
		delay := Backoff(w.cfg.backoffBase, w.cfg.backoffMax, t.Attempts)
		log.Info(ctx, "task scheduled for retry", logger.Duration("delay", delay), logger.Error(runErr))
		metrics.RecordTaskRetry(t.Queue)
		if err := w.queue.EnqueueAfter(ctx, t.Queue, t.ID, delay); err != nil {
			metrics.RecordQueueEnqueueError(t.Queue)
			t.State = model.StateFailure
			t.Error = fmt.Sprintf("requeue failed: %v", err)
			w.complete(ctx, log, t, nil)
		}

	default:
		t.State = model.StateFailure
		if failure.IsTransient(runErr) {
			t.Error = failure.WrapKind("", failure.ErrTaskFailure,
				fmt.Errorf("retries exhausted after %d attempts: %w", t.Attempts, runErr)).Error()
		} else {
			t.Error = failure.WrapKind("", failure.ErrTaskFailure, runErr).Error()
		}
		w.complete(ctx, log, t, nil)
	}
}

// complete writes the terminal state, frees the fingerprint and archives.
func (w *QueueWorker) complete(ctx context.Context, log logger.Logger, t model.Task, result *model.Result) {
	applied, err := w.store.CompleteTask(ctx, t, result, w.cfg.resultTTL)
	if err != nil {
		// The STARTED record goes stale and the gateway takes the claim over.
		log.Error(ctx, "complete task failed", logger.Error(err))
		return
	}
	if err := w.registry.Release(ctx, t.Fingerprint, t.ID); err != nil {
		log.Warn(ctx, "release fingerprint failed", logger.Error(err))
	}
	if !applied {
		log.Debug(ctx, "task already terminal")
		return
	}

	metrics.RecordTaskCompleted(t.Queue, string(t.State))
	if t.State == model.StateSuccess {
		log.Info(ctx, "task succeeded")
	} else {
		log.Warn(ctx, "task failed", logger.String("error", t.Error))
	}
	if err := w.cfg.archiver.Archive(ctx, t, result); err != nil {
		log.Warn(ctx, "archive task failed", logger.Error(err))
	}
}

func (w *QueueWorker) requeue(ctx context.Context, log logger.Logger, msg queue.Message, delay time.Duration) {
	var err error
	if delay > 0 {
		err = w.queue.EnqueueAfter(ctx, msg.Queue, msg.TaskID, delay)
	} else {
		err = w.queue.Enqueue(ctx, msg.Queue, msg.TaskID)
	}
	if err != nil {
		metrics.RecordQueueEnqueueError(msg.Queue)
		log.Error(ctx, "requeue failed", logger.Error(err))
	}
}

// Backoff is base doubled per previous attempt and capped at maxDelay.
func Backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay || d <= 0 {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}
