package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/okian/startsit/internal/adapters/archive"
	"github.com/okian/startsit/internal/adapters/mq/queue"
	"github.com/okian/startsit/internal/adapters/repository"
	"github.com/okian/startsit/internal/domain/dedupe"
	"github.com/okian/startsit/internal/domain/failure"
	"github.com/okian/startsit/internal/domain/fingerprint"
	"github.com/okian/startsit/internal/domain/model"
	"github.com/okian/startsit/internal/domain/request"
	"github.com/okian/startsit/pkg/logger"
	"github.com/okian/startsit/pkg/metrics"
)

// Submission statuses returned in a Handle.
const (
	StatusQueued = "queued"
	StatusCached = "cached"
)

// DefaultStaleAfter is how long a STARTED task may go quiet before the
// gateway treats its worker as lost.
const DefaultStaleAfter = 10 * time.Minute

// Default category to queue routing.
const (
	QueueMatchups = "matchups"
	QueueAnalysis = "analysis"
)

// DefaultCategoryQueues routes each task category to its queue.
func DefaultCategoryQueues() map[model.Category]string {
	return map[model.Category]string{
		model.CategoryMatchup:    QueueMatchups,
		model.CategoryComparison: QueueAnalysis,
	}
}

// Handle is what a submitter gets back. A duplicate submission is not an
// error: Duplicate is set and TaskID names the task already computing it.
type Handle struct {
	TaskID    string        `json:"task_id"`
	Status    string        `json:"status"`
	Queue     string        `json:"queue"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Result    *model.Result `json:"result,omitempty"`
}

// CancelOutcome reports what Cancel did.
type CancelOutcome struct {
	TaskID string          `json:"task_id"`
	State  model.TaskState `json:"status"`
	// Cancelled is true when the task was stopped before it started.
	Cancelled bool `json:"cancelled"`
	// Requested is true when a running task was asked to stop.
	Requested bool `json:"requested"`
}

// Gateway validates, deduplicates and enqueues submissions.
type Gateway struct {
	store    repository.Store
	registry dedupe.Registry
	queue    queue.Queue
	archiver archive.Archiver
	queues   map[model.Category]string

	season      int
	seasonStart time.Time
	staleAfter  time.Duration
	now         func() time.Time
	newID       func() string

	logger logger.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayQueues overrides category routing. Missing categories keep their default.
func WithGatewayQueues(routes map[model.Category]string) GatewayOption {
	return func(g *Gateway) {
		for c, q := range routes {
			if q != "" {
				g.queues[c] = q
			}
		}
	}
}

// WithGatewaySeason sets the season the implicit time bucket resolves against.
func WithGatewaySeason(season int, start time.Time) GatewayOption {
	return func(g *Gateway) {
		g.season = season
		g.seasonStart = start
	}
}

// WithGatewayStaleAfter sets how long a STARTED owner may go without a
// state write before its claim is taken over. Keep it above the task timeout.
func WithGatewayStaleAfter(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.staleAfter = d
		}
	}
}

// WithGatewayClock overrides the time source.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithGatewayArchiver archives tasks the gateway terminates on cancel.
func WithGatewayArchiver(a archive.Archiver) GatewayOption {
	return func(g *Gateway) {
		if a != nil {
			g.archiver = a
		}
	}
}

// WithGatewayLogger sets the gateway logger.
func WithGatewayLogger(l logger.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway creates a gateway over the shared store, registry and queue.
func NewGateway(store repository.Store, registry dedupe.Registry, q queue.Queue, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store:      store,
		registry:   registry,
		queue:      q,
		archiver:   archive.Nop{},
		queues:     DefaultCategoryQueues(),
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logger.Get().Named("gateway")
	}
	if g.season == 0 {
		g.season = g.now().Year()
	}
	return g
}

// Bucket is the time window a submission made now is analysed for.
func (g *Gateway) Bucket() model.Bucket {
	return model.BucketAt(g.now(), g.seasonStart, g.season)
}

// Submit normalizes a single-player request and routes it.
func (g *Gateway) Submit(ctx context.Context, req model.AnalysisRequest) (Handle, error) {
	norm, err := g.normalize(req)
	if err != nil {
		return Handle{}, err
	}
	return g.submit(ctx, model.MatchupPayload(norm))
}

// SubmitComparison normalizes a two-player request and routes it.
func (g *Gateway) SubmitComparison(ctx context.Context, req model.ComparisonRequest) (Handle, error) {
	norm, err := req.Normalize()
	if err != nil {
		return Handle{}, err
	}
	bucket := g.Bucket()
	if norm.First.Bucket == (model.Bucket{}) {
		norm.First.Bucket = bucket
	}
	if norm.Second.Bucket == (model.Bucket{}) {
		norm.Second.Bucket = bucket
	}
	return g.submit(ctx, model.ComparisonPayload(norm))
}

// SubmitJSON validates a raw submission of the given category and routes it.
func (g *Gateway) SubmitJSON(ctx context.Context, category model.Category, raw []byte) (Handle, error) {
	p, err := request.Parse(category, raw)
	if err != nil {
		return Handle{}, err
	}
	if p.Category == model.CategoryComparison {
		return g.SubmitComparison(ctx, *p.Comparison)
	}
	return g.Submit(ctx, *p.Matchup)
}

func (g *Gateway) normalize(req model.AnalysisRequest) (model.AnalysisRequest, error) {
	norm, err := req.Normalize()
	if err != nil {
		return model.AnalysisRequest{}, err
	}
	if norm.Bucket == (model.Bucket{}) {
		norm.Bucket = g.Bucket()
	}
	return norm, nil
}

// submit serves a cached result, joins an in-flight task, or creates and
// enqueues a new one. The task record exists before its claim so a concurrent
// submitter never mistakes a fresh owner for a stale one.
func (g *Gateway) submit(ctx context.Context, p model.Payload) (Handle, error) {
	const op = "gateway.submit"

	fp := fingerprint.Of(p)
	queueName := g.queueFor(p.Category)
	log := g.logger.With(logger.String("fingerprint", fp), logger.String("queue", queueName))

	now := g.now()
	cached, err := g.store.ResultByFingerprint(ctx, fp)
	switch {
	case err == nil && cached.Fresh(now):
		metrics.RecordCacheLookup(true)
		metrics.RecordTaskSubmitted(queueName, metrics.OutcomeCached)
		log.Debug(ctx, "cache hit", logger.TaskID(cached.TaskID))
		res := cached.Result
		return Handle{TaskID: cached.TaskID, Status: StatusCached, Queue: queueName, Result: &res}, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return Handle{}, failure.WrapKind(op, failure.ErrStoreUnavailable, err)
	}
	metrics.RecordCacheLookup(false)

	task := model.Task{
		ID:          g.newID(),
		Fingerprint: fp,
		Queue:       queueName,
		State:       model.StatePending,
		Payload:     p,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.store.CreateTask(ctx, task); err != nil {
		return Handle{}, failure.WrapKind(op, failure.ErrStoreUnavailable, err)
	}

	owner, err := g.claim(ctx, task)
	if err != nil {
		g.discard(ctx, task.ID)
		return Handle{}, err
	}
	if owner.ID != task.ID {
		g.discard(ctx, task.ID)
		metrics.RecordTaskSubmitted(owner.Queue, metrics.OutcomeDuplicate)
		log.Debug(ctx, "duplicate submission", logger.TaskID(owner.ID))
		return Handle{TaskID: owner.ID, Status: StatusQueued, Queue: owner.Queue, Duplicate: true}, nil
	}

	if err := g.queue.Enqueue(ctx, queueName, task.ID); err != nil {
		metrics.RecordQueueEnqueueError(queueName)
		metrics.RecordTaskSubmitted(queueName, metrics.OutcomeRejected)
		if rerr := g.registry.Release(ctx, fp, task.ID); rerr != nil {
			log.Warn(ctx, "release after enqueue failure", logger.Error(rerr))
		}
		g.discard(ctx, task.ID)
		return Handle{}, failure.WrapKind(op, failure.ErrQueueUnavailable, err)
	}

	metrics.RecordTaskSubmitted(queueName, metrics.OutcomeQueued)
	log.Info(ctx, "task queued", logger.TaskID(task.ID))
	return Handle{TaskID: task.ID, Status: StatusQueued, Queue: queueName}, nil
}

// claim returns the task that owns the fingerprint after the call: either
// task itself or a live owner. Claims do not expire, so the owner's record
// decides: missing, terminal, or STARTED with no write for staleAfter means
// stale. A stale claim is dropped and the claim retried once.
func (g *Gateway) claim(ctx context.Context, task model.Task) (model.Task, error) {
	const op = "gateway.claim"

	for range 2 {
		ownerID, claimed, err := g.registry.Claim(ctx, task.Fingerprint, task.ID)
		if err != nil {
			return model.Task{}, failure.WrapKind(op, failure.ErrStoreUnavailable, err)
		}
		if claimed {
			return task, nil
		}

		owner, err := g.store.GetTask(ctx, ownerID)
		switch {
		case err == nil && g.alive(owner):
			return owner, nil
		case err == nil && !owner.State.IsTerminal():
			if err := g.abandon(ctx, owner); err != nil {
				return model.Task{}, err
			}
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return model.Task{}, failure.WrapKind(op, failure.ErrStoreUnavailable, err)
		}

		g.logger.Warn(ctx, "releasing stale in-flight claim",
			logger.String("fingerprint", task.Fingerprint), logger.TaskID(ownerID))
		if err := g.registry.Release(ctx, task.Fingerprint, ownerID); err != nil {
			return model.Task{}, failure.WrapKind(op, failure.ErrStoreUnavailable, err)
		}
	}
	return model.Task{}, failure.WrapKind(op, failure.ErrStoreUnavailable, errors.New("fingerprint claim contended"))
}

// alive reports whether owner still counts as computing its fingerprint.
// PENDING and RETRY tasks wait in a queue for any worker and are always
// alive; a STARTED task is alive while its worker keeps writing.
func (g *Gateway) alive(owner model.Task) bool {
	switch {
	case owner.State.IsTerminal():
		return false
	case owner.State == model.StateStarted:
		return g.now().Sub(owner.UpdatedAt) < g.staleAfter
	default:
		return true
	}
}

// abandon fails a STARTED task whose worker stopped writing, so the
// fingerprint never has two non-terminal tasks.
func (g *Gateway) abandon(ctx context.Context, t model.Task) error {
	t.State = model.StateFailure
	t.Error = "worker lost: no progress for " + g.staleAfter.String()
	t.UpdatedAt = g.now()
	applied, err := g.store.CompleteTask(ctx, t, nil, 0)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return failure.WrapKind("gateway.abandon", failure.ErrStoreUnavailable, err)
	}
	if !applied {
		// the worker finished first
		return nil
	}
	metrics.RecordTaskCompleted(t.Queue, string(t.State))
	if err := g.archiver.Archive(ctx, t, nil); err != nil {
		g.logger.Warn(ctx, "archive abandoned task failed", logger.TaskID(t.ID), logger.Error(err))
	}
	return nil
}

// discard drops a task record that never reached a queue.
func (g *Gateway) discard(ctx context.Context, id string) {
	if err := g.store.DeleteTask(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		g.logger.Warn(ctx, "discard task failed", logger.TaskID(id), logger.Error(err))
	}
}

func (g *Gateway) queueFor(c model.Category) string {
	if q, ok := g.queues[c]; ok {
		return q
	}
	return QueueMatchups
}

// Cancel stops a task. A task that has not started is pulled from its queue
// and failed as cancelled. A running task is flagged and stops at its next
// stage boundary. A terminal task is left untouched.
func (g *Gateway) Cancel(ctx context.Context, id string) (CancelOutcome, error) {
	const op = "gateway.cancel"

	t, err := g.store.GetTask(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return CancelOutcome{}, failure.NewKind(op, failure.ErrNotFound)
	case err != nil:
		return CancelOutcome{}, failure.WrapKind(op, failure.ErrStoreUnavailable, err)
	}
	out := CancelOutcome{TaskID: id, State: t.State}
	if t.State.IsTerminal() {
		return out, nil
	}

	// The flag goes first so a worker that dequeues concurrently still stops.
	if err := g.store.RequestCancel(ctx, id); err != nil {
		return CancelOutcome{}, failure.WrapKind(op, failure.ErrStoreUnavailable, err)
	}
	if _, err := g.queue.Remove(ctx, t.Queue, id); err != nil {
		g.logger.Warn(ctx, "remove from queue failed", logger.TaskID(id), logger.Error(err))
	}

	t, err = g.store.GetTask(ctx, id)
	if err != nil {
		return CancelOutcome{}, failure.WrapKind(op, failure.ErrStoreUnavailable, err)
	}
	if t.State == model.StateStarted {
		out.State = t.State
		out.Requested = true
		g.logger.Info(ctx, "cancellation requested", logger.TaskID(id))
		return out, nil
	}
	if t.State.IsTerminal() {
		out.State = t.State
		return out, nil
	}

	t.State = model.StateFailure
	t.Error = failure.ErrCancelled.Error()
	t.UpdatedAt = g.now()
	applied, err := g.store.CompleteTask(ctx, t, nil, 0)
	if err != nil {
		return CancelOutcome{}, failure.WrapKind(op, failure.ErrStoreUnavailable, err)
	}
	if err := g.registry.Release(ctx, t.Fingerprint, t.ID); err != nil {
		g.logger.Warn(ctx, "release after cancel failed", logger.TaskID(id), logger.Error(err))
	}
	if applied {
		metrics.RecordTaskCancelled()
		metrics.RecordTaskCompleted(t.Queue, string(t.State))
		if err := g.archiver.Archive(ctx, t, nil); err != nil {
			g.logger.Warn(ctx, "archive cancelled task failed", logger.TaskID(id), logger.Error(err))
		}
		g.logger.Info(ctx, "task cancelled", logger.TaskID(id))
	}
	out.State = model.StateFailure
	out.Cancelled = applied
	return out, nil
}
