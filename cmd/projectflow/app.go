package main

import (
	"context"
	"fmt"

	"projectflow/internal/document"
	"projectflow/internal/repository"
	"projectflow/internal/repository/memory"
	"projectflow/internal/repository/postgres"
	"projectflow/internal/workflow"
	"projectflow/pkg/circuitbreaker"
	"projectflow/pkg/config"
	"projectflow/pkg/db"
	"projectflow/pkg/lock"
	"projectflow/pkg/logger"
	"projectflow/pkg/otel"
	"projectflow/pkg/outbox"
	redisclient "projectflow/pkg/redis"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the process-wide dependencies shared by the commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	pool   *pgxpool.Pool
	rdb    *redis.Client
	store  repository.Store
	events outbox.Store
	docs   document.Oracle
	locker lock.Locker

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(envName, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{cfg: cfg, logger: logger.NewForEnv(envName)}
	a.closers = append(a.closers, func() { _ = a.logger.Sync() })

	shutdownOtel, err := otel.Init(cfg.Otel, version, a.logger)
	if err != nil {
		a.logger.Warn("OpenTelemetry disabled", zap.Error(err))
	} else {
		a.closers = append(a.closers, shutdownOtel)
	}

	if err := a.initStorage(ctx); err != nil {
		a.close()
		return nil, err
	}
	a.initLocker()
	return a, nil
}

func (a *app) initStorage(ctx context.Context) error {
	guard := circuitbreaker.DefaultConfig()
	guard.FailureThreshold = a.cfg.DocumentOracle.FailureThreshold
	guard.Timeout = a.cfg.DocumentOracle.Timeout

	switch a.cfg.Workflow.Storage {
	case "memory":
		mem := memory.NewStore()
		a.store = mem
		a.events = mem
		a.docs = document.NewMemoryOracle()
		a.logger.Warn("Using in-memory storage, state is lost on exit")
		return nil
	default:
		pool, err := db.NewConnection(a.cfg.DB, a.logger)
		if err != nil {
			return fmt.Errorf("DB initialization failed: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("DB not reachable: %w", err)
		}
		a.store = postgres.NewStore(pool, a.logger)
		a.events = outbox.NewRepository(pool)
		a.docs = document.NewGuardedOracle(document.NewPostgresOracle(pool), guard, a.logger)
		return nil
	}
}

func (a *app) redisClient() *redis.Client {
	if a.rdb == nil {
		a.rdb = redisclient.NewRedisClient(a.cfg.Redis)
		a.closers = append(a.closers, func() { _ = a.rdb.Close() })
	}
	return a.rdb
}

func (a *app) initLocker() {
	if a.cfg.Workflow.LockBackend == "redis" {
		a.locker = lock.NewRedisLocker(a.redisClient(), a.cfg.Workflow.LockTTL, a.logger)
		return
	}
	a.locker = lock.NewLocalLocker()
}

func (a *app) workflowService() *workflow.Service {
	return workflow.NewService(a.store, workflow.NewValidator(a.docs, a.logger), workflow.NewHooks(), a.locker, a.logger)
}

// close runs the registered closers in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
