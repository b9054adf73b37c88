package worker

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/startsit/internal/adapters/mq/queue"
	"github.com/okian/startsit/internal/adapters/repository"
	"github.com/okian/startsit/internal/domain/dedupe"
	"github.com/okian/startsit/pkg/logger"
	"github.com/okian/startsit/pkg/metrics"
)

const metricsUpdateInterval = 5 * time.Second

// Group is a set of identical workers dedicated to some queues, so a slow
// category cannot starve a latency-sensitive one.
type Group struct {
	Name   string   `koanf:"name" json:"name"`
	Queues []string `koanf:"queues" json:"queues"`
	Count  int      `koanf:"count" json:"count"`
}

// Pool manages the worker groups.
type Pool struct {
	workers []*QueueWorker
	groups  []Group
	queue   queue.Queue
	cfg     settings

	startOnce sync.Once
	stop      chan struct{}

	logger logger.Logger
}

// NewPool creates one worker per group slot. A group with Count < 1 gets
// runtime.NumCPU workers. Options apply to every worker.
func NewPool(groups []Group, q queue.Queue, store repository.Store, registry dedupe.Registry, exec Executor, opts ...Option) (*Pool, error) {
	if len(groups) == 0 {
		return nil, errors.New("worker pool: no groups")
	}
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	base := cfg.logger
	if base == nil {
		base = logger.Get()
	}

	p := &Pool{
		groups: groups,
		queue:  q,
		cfg:    cfg,
		stop:   make(chan struct{}),
		logger: base.Named("worker-pool"),
	}
	for _, g := range groups {
		if len(g.Queues) == 0 {
			return nil, errors.New("worker pool: group " + g.Name + " serves no queues")
		}
		count := g.Count
		if count < 1 {
			count = runtime.NumCPU()
		}
		for i := 0; i < count; i++ {
			wopts := append(append([]Option(nil), opts...),
				WithLogger(base),
				WithName(g.Name+"-"+strconv.Itoa(i)),
				WithQueues(g.Queues...),
				withGroup(g.Name),
			)
			p.workers = append(p.workers, NewQueueWorker(q, store, registry, exec, wopts...))
		}
	}
	metrics.UpdateWorkersTotal(len(p.workers))
	return p, nil
}

// Size is the number of workers across all groups.
func (p *Pool) Size() int { return len(p.workers) }

// Groups returns the configured groups.
func (p *Pool) Groups() []Group { return p.groups }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for _, w := range p.workers {
			go w.Run(ctx)
		}
		go p.startMetricsUpdater(ctx)
		p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
	})
}

// startMetricsUpdater publishes queue depths until the pool stops.
func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.updateMetrics(ctx)
		}
	}
}

func (p *Pool) updateMetrics(ctx context.Context) {
	seen := map[string]bool{}
	for _, g := range p.groups {
		for _, name := range g.Queues {
			if seen[name] {
				continue
			}
			seen[name] = true
			n, err := p.queue.Len(ctx, name)
			if err != nil {
				continue
			}
			metrics.UpdateQueueDepth(name, n)
		}
	}
}

// Shutdown stops every worker concurrently and waits for them to drain.
// Queued tasks stay on their queues for the next process.
func (p *Pool) Shutdown(ctx context.Context) error {
	select {
	case <-p.stop:
		return nil
	default:
		close(p.stop)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, w := range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		p.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Int("stuck", len(errs)))
		return errors.Join(errs...)
	}
	p.logger.Info(ctx, "worker pool stopped")
	return nil
}
