package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marketplace/reviewcore/internal/config"
	"github.com/marketplace/reviewcore/internal/event"
	handler "github.com/marketplace/reviewcore/internal/handler/http"
	"github.com/marketplace/reviewcore/internal/reconcile"
	"github.com/marketplace/reviewcore/internal/service"
	"github.com/marketplace/reviewcore/pkg/breaker"
	"github.com/marketplace/reviewcore/pkg/health"
	pkgkafka "github.com/marketplace/reviewcore/pkg/kafka"
	"github.com/marketplace/reviewcore/pkg/tracing"
)

// App wires together all dependencies and runs the review service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	stores         *Stores
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumers      []*pkgkafka.Consumer
	httpServer     *http.Server
	reconciler     *reconcile.Job
	tracerShutdown tracing.ShutdownFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	stores, err := OpenStores(ctx, cfg, logger)
	if err != nil {
		_ = tracerShutdown(context.Background())
		return nil, err
	}
	if err := stores.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		logger.Warn("failed to register pool metrics", slog.String("error", err.Error()))
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		stores:         stores,
		tracerShutdown: tracerShutdown,
	}

	healthHandler := health.NewHandler()
	stores.RegisterHealth(healthHandler)

	// Notifications go to Kafka when enabled, otherwise to the log.
	var notifier service.Notifier = event.NewLogNotifier(logger)
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		if err := a.producer.Ping(ctx); err != nil {
			logger.Warn("kafka producer ping failed, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}

		breakerCfg := breaker.DefaultConfig("review-notifications")
		breakerCfg.Timeout = cfg.NotifyBreakerTimeout
		breakerCfg.MinRequests = cfg.NotifyBreakerMinRequests
		breakerCfg.FailureRatio = cfg.NotifyBreakerFailureRatio
		notifier = event.NewKafkaNotifier(a.producer, breaker.New(breakerCfg, logger), logger)

		producer := a.producer
		healthHandler.Register("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	// Build the dependency graph.
	recomputer := stores.Recomputer(logger)
	lifecycle := service.NewReviewLifecycleManager(stores.Reviews, recomputer, notifier, cfg.InitialStatus(), logger)
	queries := service.NewReviewQueryService(stores.Reviews, stores.Stats, logger)
	engagement := service.NewEngagementService(stores.Reviews, logger)
	a.reconciler = stores.ReconcileJob(cfg, logger)

	if cfg.KafkaEnabled {
		a.setupConsumers(lifecycle, engagement)
	}

	router := handler.NewRouter(lifecycle, queries, engagement, healthHandler, logger)
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// setupConsumers subscribes to moderation decisions and reply counter changes.
func (a *App) setupConsumers(lifecycle *service.ReviewLifecycleManager, engagement *service.EngagementService) {
	var store pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(a.cfg.IdempotencyTTL)
	if client := a.stores.Redis(); client != nil {
		store = pkgkafka.NewRedisIdempotencyStore(client, "review:processed-event:", a.cfg.IdempotencyTTL)
	}

	a.dlq = pkgkafka.NewDLQProducer(a.cfg.KafkaBrokers, a.logger)
	consumer := event.NewConsumer(lifecycle, engagement, a.logger)

	subscribe := func(topic string, h pkgkafka.Handler) {
		a.consumers = append(a.consumers, pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:    a.cfg.KafkaBrokers,
			GroupID:    a.cfg.KafkaConsumerGroup,
			Topic:      topic,
			MinBytes:   1,
			MaxBytes:   10e6,
			DeadLetter: a.dlq,
		}, pkgkafka.IdempotentHandler(store, h, a.logger), a.logger))
	}
	subscribe(a.cfg.ModerationTopic, consumer.HandleModerationDecided)
	subscribe(a.cfg.ReplyTopic, consumer.HandleReplyChanged)
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server, Kafka consumers, and the reconciliation
// schedule, then blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1+len(a.consumers))

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Start Kafka consumers.
	for _, c := range a.consumers {
		go func() {
			if err := c.Start(ctx); err != nil {
				errCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}

	if a.cfg.ReconcileInterval > 0 {
		a.logger.Info("scheduling reconciliation",
			slog.Duration("interval", a.cfg.ReconcileInterval),
			slog.Bool("fix", a.cfg.ReconcileFix),
		)
		go a.reconciler.Start(ctx, a.cfg.ReconcileInterval, reconcile.Options{Fix: a.cfg.ReconcileFix})
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumers and producers
// 4. Storage connections
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka consumers, then producers.
	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("kafka dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close storage connections.
	a.stores.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
