package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/fleetmed/medsync/internal/app"
	"github.com/fleetmed/medsync/internal/archive"
	"github.com/fleetmed/medsync/internal/catalog"
	"github.com/fleetmed/medsync/internal/export"
	"github.com/fleetmed/medsync/internal/idempotency"
	"github.com/fleetmed/medsync/internal/ledger"
	"github.com/fleetmed/medsync/internal/observability"
	"github.com/fleetmed/medsync/internal/platform/cache"
	"github.com/fleetmed/medsync/internal/platform/db"
	"github.com/fleetmed/medsync/internal/prefs"
	"github.com/fleetmed/medsync/internal/reconcile"
	"github.com/fleetmed/medsync/internal/remote"
	"github.com/fleetmed/medsync/internal/summary"
	"github.com/fleetmed/medsync/internal/syncer"
	"github.com/fleetmed/medsync/jobs"
)

// errNoBroker is returned by commands that need the job queue.
var errNoBroker = errors.New("REDIS_ADDR must be set to use the job queue")

// stack holds the wired services shared by every command.
type stack struct {
	cfg     *app.Config
	logger  *slog.Logger
	db      *db.DB
	redis   *redis.Client
	metrics *observability.Metrics
	catalog *catalog.Catalog

	prefs    *prefs.Store
	ledger   *ledger.Service
	summary  *summary.Service
	archive  *archive.Service
	compiler *reconcile.Compiler
	syncer   *syncer.Service
	export   *export.Service
}

func bootstrap(ctx context.Context) (*stack, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	store, err := db.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &stack{
		cfg:     cfg,
		logger:  logger,
		db:      store,
		metrics: observability.NewMetrics(),
		catalog: catalog.Default(),
	}
	if err := store.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	loc := cfg.Location()
	clock := func() time.Time { return time.Now().In(loc) }

	s.prefs = prefs.NewStore(store)
	s.ledger = ledger.NewService(ledger.NewRepository(store), s.prefs, logger)
	s.ledger.WithClock(clock)
	s.summary = summary.NewService(summary.NewRepository(store))
	s.archive = archive.NewService(archive.NewRepository(store), logger)
	s.compiler = reconcile.NewCompiler(store, logger)

	var idem idempotency.Cache = idempotency.NewMemoryCache(cfg.IdempotencyCapacity, cfg.IdempotencyTTL)
	if cfg.RedisAddr != "" {
		client, err := cache.Open(ctx, cfg.CacheOptions())
		if err != nil {
			s.Close()
			return nil, err
		}
		s.redis = client
		idem = idempotency.NewRedisCache(client, cfg.IdempotencyTTL)
	}

	client, err := remote.New(remote.Config{
		URL:     cfg.RemoteURL,
		APIKey:  cfg.RemoteAPIKey,
		Timeout: cfg.RemoteTimeout,
	}, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("remote client: %w", err)
	}
	s.syncer = syncer.NewService(client, s.ledger, s.prefs, idem, syncer.Options{
		MonthConcurrency: cfg.MonthFetchConcurrency,
		Recorder:         s.metrics,
		Logger:           logger,
	})
	s.syncer.WithClock(clock)
	s.export = export.NewService(s.ledger, s.catalog, logger)
	return s, nil
}

func (s *stack) redisOpts() (asynq.RedisClientOpt, error) {
	if s.cfg.RedisAddr == "" {
		return asynq.RedisClientOpt{}, errNoBroker
	}
	return s.cfg.QueueRedis(), nil
}

func (s *stack) ledgerJobs() *jobs.LedgerJobs {
	return jobs.NewLedgerJobs(jobs.LedgerJobsConfig{
		Compiler: s.compiler,
		Roller:   s.ledger,
		Uploader: s.syncer,
		Metrics:  s.metrics.Jobs(),
		Logger:   s.logger,
		Location: s.cfg.Location(),
	})
}

// Close releases the store and broker connections.
func (s *stack) Close() {
	if s == nil {
		return
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("store close", slog.Any("error", err))
		}
	}
}
