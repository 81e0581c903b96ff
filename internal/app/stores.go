package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/marketplace/reviewcore/internal/config"
	"github.com/marketplace/reviewcore/internal/reconcile"
	"github.com/marketplace/reviewcore/internal/repository"
	"github.com/marketplace/reviewcore/internal/repository/memory"
	"github.com/marketplace/reviewcore/internal/repository/postgres"
	redisrepo "github.com/marketplace/reviewcore/internal/repository/redis"
	"github.com/marketplace/reviewcore/internal/service"
	"github.com/marketplace/reviewcore/migrations"
	"github.com/marketplace/reviewcore/pkg/database"
	"github.com/marketplace/reviewcore/pkg/health"
)

const serviceName = "review"

// Stores is the storage layer selected by configuration: PostgreSQL or
// in-memory reviews and snapshots, optionally fronted by Redis.
type Stores struct {
	Reviews repository.ReviewStore
	Stats   repository.StatsStore
	Locker  repository.RecomputeLocker
	Stale   repository.StaleMarker

	pool  *pgxpool.Pool
	redis *goredis.Client
}

// OpenStores connects to the configured backends and runs migrations.
func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	s := &Stores{}

	switch cfg.Store {
	case config.StorePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.PostgresHost),
			slog.Int("port", cfg.PostgresPort),
			slog.String("database", cfg.PostgresDB),
		)

		if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")

		if cfg.SlowQueryThresholdMs > 0 {
			database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
		}

		s.pool = pool
		s.Reviews = postgres.NewReviewStore(pool)
		s.Stats = postgres.NewStatsStore(pool)
		s.Stale = postgres.NewStaleTable(pool)
	default:
		logger.Warn("using in-memory review store; data is lost on restart")
		s.Reviews = memory.NewReviewStore()
		s.Stats = memory.NewStatsStore()
		s.Stale = memory.NewStaleSet()
	}
	s.Locker = memory.NewKeyedLocker()

	if cfg.RedisEnabled {
		client, err := database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))

		s.redis = client
		s.Stats = redisrepo.NewCachedStatsStore(s.Stats, client, cfg.StatsCacheTTL, logger)
		s.Locker = redisrepo.NewLocker(client, cfg.RecomputeLockTTL, cfg.RecomputeLockWait)
		s.Stale = redisrepo.NewStaleSet(client)
	}

	return s, nil
}

// Redis returns the Redis client, or nil when Redis is disabled.
func (s *Stores) Redis() *goredis.Client {
	return s.redis
}

// RegisterHealth adds a readiness check per connected backend.
func (s *Stores) RegisterHealth(h *health.Handler) {
	if s.pool != nil {
		h.Register("postgres", func(ctx context.Context) error {
			return s.pool.Ping(ctx)
		})
	}
	if s.redis != nil {
		h.Register("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		})
	}
}

// RegisterMetrics exports connection pool statistics.
func (s *Stores) RegisterMetrics(reg prometheus.Registerer) error {
	if s.pool == nil {
		return nil
	}
	return database.RegisterPoolMetrics(reg, s.pool, serviceName)
}

// Recomputer builds the aggregate recomputer over these stores.
func (s *Stores) Recomputer(logger *slog.Logger) *service.AggregateRecomputer {
	return service.NewAggregateRecomputer(s.Reviews, s.Stats, s.Locker, s.Stale, logger)
}

// ReconcileJob builds the reconciliation job over these stores.
func (s *Stores) ReconcileJob(cfg *config.Config, logger *slog.Logger) *reconcile.Job {
	return reconcile.NewJob(s.Recomputer(logger), s.Reviews, s.Stats, s.Stale, cfg.ReconcileRPS, logger)
}

// Close releases every connection.
func (s *Stores) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
