package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/startsit/internal/adapters/archive"
	"github.com/okian/startsit/internal/adapters/mq/queue"
	"github.com/okian/startsit/internal/adapters/provider"
	"github.com/okian/startsit/internal/adapters/redisclient"
	"github.com/okian/startsit/internal/adapters/repository"
	service "github.com/okian/startsit/internal/app"
	"github.com/okian/startsit/internal/config"
	"github.com/okian/startsit/internal/domain/grading"
	"github.com/okian/startsit/pkg/logger"
)

// errNeedsRedis is returned by commands that talk to a running service.
var errNeedsRedis = errors.New("this command needs the redis backend (STARTSIT_BACKEND=redis); use analyze for a one-off computation")

type closers []func() error

func (c closers) close(ctx context.Context) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Get().Warn(ctx, "close failed", logger.Error(err))
		}
	}
}

// buildService assembles a Service from cfg. The returned cleanup closes the
// connections the service was given; call it after Stop.
func buildService(ctx context.Context, cfg *config.Config) (*service.Service, func(), error) {
	var cs closers
	fail := func(err error) (*service.Service, func(), error) {
		cs.close(ctx)
		return nil, nil, err
	}

	sources, err := buildProviders(cfg)
	if err != nil {
		return fail(err)
	}
	grader, err := grading.New(cfg.Scoring)
	if err != nil {
		return fail(err)
	}
	routes, err := cfg.Routes()
	if err != nil {
		return fail(err)
	}
	start, err := cfg.SeasonStartTime()
	if err != nil {
		return fail(err)
	}

	opts := []service.Option{
		service.WithLogger(logger.Get()),
		service.WithProviders(sources),
		service.WithGrader(grader),
		service.WithWorkerGroups(cfg.WorkerGroups),
		service.WithCategoryQueues(routes),
		service.WithQueueCapacity(cfg.QueueCapacity),
		service.WithResultTTL(cfg.ResultTTL()),
		service.WithTaskRetention(cfg.TaskRetention()),
		service.WithStaleAfter(cfg.StaleAfter()),
		service.WithTimeouts(cfg.TaskTimeout(), cfg.FetchTimeout()),
		service.WithRetry(cfg.MaxRetries, cfg.BackoffBase(), cfg.BackoffMax()),
		service.WithDrainTimeout(cfg.DrainTimeout()),
		service.WithSeason(cfg.Season, start),
	}

	arch, closeArch, err := openArchive(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	cs = append(cs, closeArch)
	opts = append(opts, service.WithArchiver(arch))

	if cfg.Backend == config.BackendRedis {
		rc, err := openRedis(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		cs = append(cs, rc.Close)
		opts = append(opts, service.WithRedis(rc))
	}

	return service.New(opts...), func() { cs.close(ctx) }, nil
}

// buildProviders loads the fixture-backed collaborators, rate limited when
// provider_rps is set.
func buildProviders(cfg *config.Config) (provider.Set, error) {
	fixtures, err := provider.LoadFixtures(cfg.FixturesPath)
	if err != nil {
		return provider.Set{}, err
	}
	set := provider.NewStatic(fixtures).Set()
	if cfg.ProviderRPS > 0 {
		burst := int(cfg.ProviderRPS)
		set = provider.NewLimited(set, cfg.ProviderRPS, burst).Set()
	}
	return set, nil
}

func openArchive(ctx context.Context, cfg *config.Config) (archive.Archiver, func() error, error) {
	if cfg.PostgresDSN == "" {
		return archive.Nop{}, func() error { return nil }, nil
	}
	pg, err := archive.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("prepare archive: %w", err)
	}
	return pg, pg.Close, nil
}

func openRedis(ctx context.Context, cfg *config.Config) (*redisclient.Client, error) {
	rc := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
	})
	if err := rc.Ping(ctx); err != nil {
		_ = rc.Close()
		return nil, err
	}
	return rc, nil
}

// remote is a gateway and poller over the shared Redis backend, used by the
// commands that talk to a running `serve`.
type remote struct {
	gateway *service.Gateway
	poller  *service.Poller
	cleanup func()
}

func openRemote(ctx context.Context, cfg *config.Config) (*remote, error) {
	if cfg.Backend != config.BackendRedis {
		return nil, errNeedsRedis
	}
	routes, err := cfg.Routes()
	if err != nil {
		return nil, err
	}
	start, err := cfg.SeasonStartTime()
	if err != nil {
		return nil, err
	}

	var cs closers
	rc, err := openRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cs = append(cs, rc.Close)

	arch, closeArch, err := openArchive(ctx, cfg)
	if err != nil {
		cs.close(ctx)
		return nil, err
	}
	cs = append(cs, closeArch)

	store := repository.NewRedisStore(rc, repository.WithRetention(cfg.TaskRetention()))
	gw := service.NewGateway(store,
		repository.NewRedisRegistry(rc),
		queue.NewRedisQueue(rc),
		service.WithGatewayQueues(routes),
		service.WithGatewayStaleAfter(cfg.StaleAfter()),
		service.WithGatewaySeason(cfg.Season, start),
		service.WithGatewayArchiver(arch),
	)
	return &remote{
		gateway: gw,
		poller:  service.NewPoller(store, arch),
		cleanup: func() { cs.close(ctx) },
	}, nil
}
