// Package event publishes review notifications and consumes moderation and
// reply events.
package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/pkg/breaker"
	pkgkafka "github.com/marketplace/reviewcore/pkg/kafka"
	"github.com/marketplace/reviewcore/pkg/logger"
)

const (
	// Source identifies this service in event envelopes.
	Source = "review-service"

	aggregateType  = "review"
	publishTimeout = 5 * time.Second
)

var notificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "review_notifications_total",
		Help: "Total number of review notifications by event and result.",
	},
	[]string{"event", "result"},
)

// Publisher writes an event envelope to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// ReviewTopic returns the topic a review event is published on, for example
// marketplace.review.approved.
func ReviewTopic(t domain.ReviewEventType) string {
	return pkgkafka.Topic(aggregateType, string(t))
}

// KafkaNotifier publishes review events through a circuit breaker. Failures
// are logged and counted; they never reach the caller.
type KafkaNotifier struct {
	publisher Publisher
	breaker   *breaker.Breaker
	logger    *slog.Logger
}

// NewKafkaNotifier creates a notifier.
func NewKafkaNotifier(publisher Publisher, br *breaker.Breaker, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, breaker: br, logger: logger}
}

// Notify publishes e. It returns once the broker acknowledged the event, the
// publish failed, or the breaker rejected it.
func (n *KafkaNotifier) Notify(ctx context.Context, e domain.ReviewEvent) {
	env, err := pkgkafka.NewEvent("review."+string(e.Event), e.ReviewID, aggregateType, Source, e)
	if err != nil {
		n.fail(ctx, e, err)
		return
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		env.WithCorrelationID(id)
	}
	env.WithMetadata("product_id", e.ProductID)

	// The review write is already durable; the caller going away must not
	// drop its notification.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err = n.breaker.Do(func() error {
		return n.publisher.Publish(pubCtx, ReviewTopic(e.Event), env)
	})
	if err != nil {
		n.fail(ctx, e, err)
		return
	}
	notificationsTotal.WithLabelValues(string(e.Event), "published").Inc()
}

func (n *KafkaNotifier) fail(ctx context.Context, e domain.ReviewEvent, err error) {
	notificationsTotal.WithLabelValues(string(e.Event), "failed").Inc()
	n.logger.ErrorContext(ctx, "failed to publish review event",
		slog.String("event", string(e.Event)),
		slog.String("review_id", e.ReviewID),
		slog.String("product_id", e.ProductID),
		slog.String("error", err.Error()),
	)
}

// LogNotifier writes review events to the log. It is used when Kafka is
// disabled.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a logging notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs e.
func (n *LogNotifier) Notify(ctx context.Context, e domain.ReviewEvent) {
	notificationsTotal.WithLabelValues(string(e.Event), "logged").Inc()
	n.logger.InfoContext(ctx, "review event",
		slog.String("event", string(e.Event)),
		slog.String("review_id", e.ReviewID),
		slog.String("product_id", e.ProductID),
		slog.String("reviewer_id", e.ReviewerID),
		slog.String("status", string(e.Status)),
	)
}
