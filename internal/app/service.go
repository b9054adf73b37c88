// Package service wires the analysis pipeline: the submission gateway, the
// queues and worker pool, the result store and the status poller.
package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/okian/startsit/internal/adapters/archive"
	"github.com/okian/startsit/internal/adapters/mq/queue"
	"github.com/okian/startsit/internal/adapters/mq/worker"
	"github.com/okian/startsit/internal/adapters/provider"
	"github.com/okian/startsit/internal/adapters/redisclient"
	"github.com/okian/startsit/internal/adapters/repository"
	"github.com/okian/startsit/internal/domain/analysis"
	"github.com/okian/startsit/internal/domain/dedupe"
	"github.com/okian/startsit/internal/domain/grading"
	"github.com/okian/startsit/internal/domain/model"
	"github.com/okian/startsit/pkg/logger"
	"github.com/okian/startsit/pkg/metrics"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ErrNotStarted is returned by calls that need a started service.
var ErrNotStarted = errors.New("service not started")

// Service owns every shared component. All of them are injected or built in
// Start; nothing is global.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	registry dedupe.Registry
	queue    queue.Queue
	pipeline *analysis.Pipeline
	pool     *worker.Pool
	gateway  *Gateway
	poller   *Poller

	// Injected collaborators
	redis    *redisclient.Client
	sources  provider.Set
	grader   *grading.Grader
	archiver archive.Archiver

	// Configuration
	groups         []worker.Group
	categoryQueues map[model.Category]string
	queueCapacity  int
	resultTTL      time.Duration
	taskRetention  time.Duration
	staleAfter     time.Duration
	taskTimeout    time.Duration
	fetchTimeout   time.Duration
	maxRetries     int
	backoffBase    time.Duration
	backoffMax     time.Duration
	drainTimeout   time.Duration
	season         int
	seasonStart    time.Time
	evictEvery     time.Duration
	now            func() time.Time

	// State
	started   bool
	stopEvict context.CancelFunc

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRedis selects the Redis backend for queues, store and registry.
func WithRedis(client *redisclient.Client) Option {
	return func(s *Service) {
		s.redis = client
	}
}

// WithProviders sets the data collaborators.
func WithProviders(set provider.Set) Option {
	return func(s *Service) {
		s.sources = set
	}
}

// WithGrader sets the grading configuration.
func WithGrader(g *grading.Grader) Option {
	return func(s *Service) {
		if g != nil {
			s.grader = g
		}
	}
}

// WithArchiver copies terminal tasks to long-term storage.
func WithArchiver(a archive.Archiver) Option {
	return func(s *Service) {
		if a != nil {
			s.archiver = a
		}
	}
}

// WithWorkerGroups sets the worker groups and the queues they serve.
func WithWorkerGroups(groups []worker.Group) Option {
	return func(s *Service) {
		if len(groups) > 0 {
			s.groups = groups
		}
	}
}

// WithCategoryQueues overrides category to queue routing.
func WithCategoryQueues(routes map[model.Category]string) Option {
	return func(s *Service) {
		for c, q := range routes {
			if q != "" {
				s.categoryQueues[c] = q
			}
		}
	}
}

// WithQueueCapacity bounds each in-memory queue.
func WithQueueCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queueCapacity = n
		}
	}
}

// WithResultTTL sets how long results stay cached.
func WithResultTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.resultTTL = d
		}
	}
}

// WithTaskRetention sets how long task records are kept.
func WithTaskRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.taskRetention = d
		}
	}
}

// WithStaleAfter sets how long a STARTED task may go without a state write
// before a new submission takes over its fingerprint.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithTimeouts sets the whole-task and per-fetch timeouts.
func WithTimeouts(task, fetch time.Duration) Option {
	return func(s *Service) {
		if task > 0 {
			s.taskTimeout = task
		}
		if fetch > 0 {
			s.fetchTimeout = fetch
		}
	}
}

// WithRetry sets the retry budget and backoff bounds.
func WithRetry(maxRetries int, base, maxDelay time.Duration) Option {
	return func(s *Service) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
		if base > 0 {
			s.backoffBase = base
		}
		if maxDelay > 0 {
			s.backoffMax = maxDelay
		}
	}
}

// WithDrainTimeout bounds graceful shutdown of in-flight tasks.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

// WithSeason sets the season the implicit time bucket resolves against.
func WithSeason(season int, start time.Time) Option {
	return func(s *Service) {
		s.season = season
		s.seasonStart = start
	}
}

// WithClock overrides the time source of the gateway and the stores.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		groups: []worker.Group{
			{Name: "matchups", Queues: []string{QueueMatchups}, Count: 4},
			{Name: "analysis", Queues: []string{QueueAnalysis, QueueMatchups}, Count: 2},
		},
		categoryQueues: DefaultCategoryQueues(),
		queueCapacity:  10000,
		resultTTL:      24 * time.Hour,
		taskRetention:  7 * 24 * time.Hour,
		staleAfter:     DefaultStaleAfter,
		taskTimeout:    30 * time.Second,
		fetchTimeout:   2 * time.Second,
		maxRetries:     3,
		backoffBase:    500 * time.Millisecond,
		backoffMax:     30 * time.Second,
		drainTimeout:   10 * time.Second,
		evictEvery:     time.Minute,
		archiver:       archive.Nop{},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend reports which storage backend Start builds.
func (s *Service) Backend() string {
	if s.redis != nil {
		return BackendRedis
	}
	return BackendMemory
}

// Start builds the backends and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting analysis service...", logger.String("backend", s.Backend()))

	if err := s.buildPipeline(); err != nil {
		return err
	}
	s.buildBackends(ctx)

	pool, err := worker.NewPool(s.groups, s.queue, s.store, s.registry, s.pipeline,
		worker.WithLogger(s.logger),
		worker.WithMaxRetries(s.maxRetries),
		worker.WithBackoff(s.backoffBase, s.backoffMax),
		worker.WithTaskTimeout(s.taskTimeout),
		worker.WithResultTTL(s.resultTTL),
		worker.WithDrainTimeout(s.drainTimeout),
		worker.WithArchiver(s.archiver),
		worker.WithClock(s.now),
	)
	if err != nil {
		if s.stopEvict != nil {
			s.stopEvict()
		}
		return err
	}
	s.pool = pool
	s.gateway = NewGateway(s.store, s.registry, s.queue,
		WithGatewayQueues(s.categoryQueues),
		WithGatewaySeason(s.season, s.seasonStart),
		WithGatewayClock(s.now),
		WithGatewayStaleAfter(s.staleAfter),
		WithGatewayArchiver(s.archiver),
		WithGatewayLogger(s.logger.Named("gateway")),
	)
	s.poller = NewPoller(s.store, s.archiver)
	s.pool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "analysis service started",
		logger.Int("workers", s.pool.Size()),
		logger.Duration("resultTTL", s.resultTTL),
		logger.Int("maxRetries", s.maxRetries),
	)
	return nil
}

func (s *Service) buildPipeline() error {
	if s.grader == nil {
		s.grader = grading.Must(grading.DefaultConfig())
	}
	p, err := analysis.New(s.sources, s.grader,
		analysis.WithFetchTimeout(s.fetchTimeout),
		analysis.WithSeasonStart(s.seasonStart),
		analysis.WithLogger(s.logger.Named("pipeline")),
	)
	if err != nil {
		return err
	}
	s.pipeline = p
	return nil
}

func (s *Service) buildBackends(ctx context.Context) {
	if s.redis != nil {
		s.queue = queue.NewRedisQueue(s.redis, queue.WithRedisClock(s.now))
		s.store = repository.NewRedisStore(s.redis,
			repository.WithRetention(s.taskRetention), repository.WithClock(s.now))
		s.registry = repository.NewRedisRegistry(s.redis)
		return
	}

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueCapacity), queue.WithClock(s.now))
	mem := repository.NewMemoryStore(repository.WithRetention(s.taskRetention), repository.WithClock(s.now))
	s.store = mem
	s.registry = dedupe.NewInMemoryRegistry()

	evictCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopEvict = cancel
	go mem.EvictLoop(evictCtx, s.evictEvery)
}

// Stop drains the worker pool and closes the queue. Queued tasks stay queued
// on durable backends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping analysis service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.queue.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.stopEvict != nil {
		s.stopEvict()
	}

	s.started = false
	s.logger.Info(ctx, "analysis service stopped")
	return errors.Join(errs...)
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// Health reports whether the service is started and its backend reachable.
func (s *Service) Health(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if s.redis != nil {
		return s.redis.Ping(ctx)
	}
	return nil
}

// Submit enqueues a single-player start/sit analysis.
func (s *Service) Submit(ctx context.Context, req model.AnalysisRequest) (Handle, error) {
	if err := s.ready(); err != nil {
		return Handle{}, err
	}
	return s.gateway.Submit(ctx, req)
}

// SubmitComparison enqueues a two-player comparison.
func (s *Service) SubmitComparison(ctx context.Context, req model.ComparisonRequest) (Handle, error) {
	if err := s.ready(); err != nil {
		return Handle{}, err
	}
	return s.gateway.SubmitComparison(ctx, req)
}

// SubmitJSON validates and enqueues a raw JSON submission.
func (s *Service) SubmitJSON(ctx context.Context, category model.Category, raw []byte) (Handle, error) {
	if err := s.ready(); err != nil {
		return Handle{}, err
	}
	return s.gateway.SubmitJSON(ctx, category, raw)
}

// Cancel stops a task that has not finished.
func (s *Service) Cancel(ctx context.Context, id string) (CancelOutcome, error) {
	if err := s.ready(); err != nil {
		return CancelOutcome{}, err
	}
	return s.gateway.Cancel(ctx, id)
}

// Status returns the state of a task.
func (s *Service) Status(ctx context.Context, id string) (Status, error) {
	if err := s.ready(); err != nil {
		return Status{}, err
	}
	return s.poller.Status(ctx, id)
}

// Analyze computes a matchup synchronously, bypassing queues and caches.
func (s *Service) Analyze(ctx context.Context, req model.AnalysisRequest) (model.AnalysisResult, error) {
	if err := s.ready(); err != nil {
		return model.AnalysisResult{}, err
	}
	norm, err := s.gateway.normalize(req)
	if err != nil {
		return model.AnalysisResult{}, err
	}
	return s.pipeline.Analyze(ctx, norm, nil)
}

// Stats is a snapshot for monitoring.
type Stats struct {
	Started  bool           `json:"started"`
	Backend  string         `json:"backend"`
	Workers  int            `json:"workers"`
	InFlight int64          `json:"in_flight"`
	Queues   map[string]int `json:"queues"`
	Bucket   model.Bucket   `json:"bucket"`
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Started: s.started, Backend: s.Backend(), Queues: map[string]int{}}
	if !s.started {
		return stats
	}
	stats.Workers = s.pool.Size()
	stats.Bucket = s.gateway.Bucket()
	if n, err := s.registry.Size(ctx); err == nil {
		stats.InFlight = n
	}
	for _, name := range s.queueNames() {
		n, err := s.queue.Len(ctx, name)
		if err != nil {
			continue
		}
		stats.Queues[name] = n
		metrics.UpdateQueueDepth(name, n)
	}
	metrics.UpdateWorkersTotal(stats.Workers)
	return stats
}

func (s *Service) queueNames() []string {
	seen := map[string]bool{}
	for _, q := range s.categoryQueues {
		seen[q] = true
	}
	for _, g := range s.groups {
		for _, q := range g.Queues {
			seen[q] = true
		}
	}
	names := make([]string, 0, len(seen))
	for q := range seen {
		names = append(names, q)
	}
	sort.Strings(names)
	return names
}
