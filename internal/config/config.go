package config

import (
	"fmt"
	"time"

	"github.com/marketplace/reviewcore/internal/domain"
	pkgconfig "github.com/marketplace/reviewcore/pkg/config"
	"github.com/marketplace/reviewcore/pkg/database"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all configuration for the review service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"REVIEW_HTTP_PORT" envDefault:"8020"`

	// Review and aggregate storage
	Store string `env:"REVIEW_STORE" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"marketplace"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"marketplace_secret"`
	PostgresDB   string `env:"REVIEW_DB_NAME" envDefault:"review_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis: stats cache, recompute lock, stale set, consumer idempotency
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	StatsCacheTTL     time.Duration `env:"STATS_CACHE_TTL" envDefault:"5m"`
	RecomputeLockTTL  time.Duration `env:"RECOMPUTE_LOCK_TTL" envDefault:"10s"`
	RecomputeLockWait time.Duration `env:"RECOMPUTE_LOCK_WAIT" envDefault:"3s"`

	// Kafka
	KafkaEnabled       bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers       []string      `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaConsumerGroup string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"review-service"`
	ModerationTopic    string        `env:"MODERATION_TOPIC" envDefault:"marketplace.moderation.decided"`
	ReplyTopic         string        `env:"REPLY_TOPIC" envDefault:"marketplace.review.reply_changed"`
	IdempotencyTTL     time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	// Notification circuit breaker
	NotifyBreakerTimeout      time.Duration `env:"NOTIFY_BREAKER_TIMEOUT" envDefault:"30s"`
	NotifyBreakerMinRequests  uint32        `env:"NOTIFY_BREAKER_MIN_REQUESTS" envDefault:"5"`
	NotifyBreakerFailureRatio float64       `env:"NOTIFY_BREAKER_FAILURE_RATIO" envDefault:"0.5"`

	// Status given to new reviews before any moderation decision.
	DefaultReviewStatus string `env:"DEFAULT_REVIEW_STATUS" envDefault:"pending"`

	// Reconciliation
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"0s"`
	ReconcileRPS      float64       `env:"RECONCILE_RPS" envDefault:"50"`
	ReconcileFix      bool          `env:"RECONCILE_FIX" envDefault:"true"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load review config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	switch c.Store {
	case StorePostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("REVIEW_STORE must be postgres or memory, got %q", c.Store)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.RedisEnabled && c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required when REDIS_ENABLED is set")
	}
	if s := domain.ReviewStatus(c.DefaultReviewStatus); s != domain.ReviewStatusPending && s != domain.ReviewStatusApproved {
		return fmt.Errorf("DEFAULT_REVIEW_STATUS must be pending or approved, got %q", c.DefaultReviewStatus)
	}
	if c.RecomputeLockTTL <= 0 {
		return fmt.Errorf("RECOMPUTE_LOCK_TTL must be > 0, got %s", c.RecomputeLockTTL)
	}
	if c.RecomputeLockWait <= 0 {
		return fmt.Errorf("RECOMPUTE_LOCK_WAIT must be > 0, got %s", c.RecomputeLockWait)
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be >= 0, got %s", c.ReconcileInterval)
	}
	if c.NotifyBreakerFailureRatio <= 0 || c.NotifyBreakerFailureRatio > 1.0 {
		return fmt.Errorf("NOTIFY_BREAKER_FAILURE_RATIO must be in (0, 1], got %f", c.NotifyBreakerFailureRatio)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// Postgres returns the connection settings for database.NewPostgresPool.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the connection settings for database.NewRedisClient.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// InitialStatus is the status new reviews start in.
func (c *Config) InitialStatus() domain.ReviewStatus {
	return domain.ReviewStatus(c.DefaultReviewStatus)
}
