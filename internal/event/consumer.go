package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marketplace/reviewcore/internal/domain"
	apperrors "github.com/marketplace/reviewcore/pkg/errors"
	pkgkafka "github.com/marketplace/reviewcore/pkg/kafka"
)

// Kafka topics consumed by the review service.
var (
	TopicModerationDecided = pkgkafka.Topic("moderation", "decided")
	TopicReplyChanged      = pkgkafka.Topic("review", "reply_changed")
)

// ModerationService applies moderation decisions.
type ModerationService interface {
	SetStatus(ctx context.Context, id string, status domain.ReviewStatus) (*domain.Review, error)
}

// ReplyCounter maintains review reply counters.
type ReplyCounter interface {
	AdjustReplies(ctx context.Context, reviewID string, delta int) (int, error)
}

// ModerationDecidedData is the payload of a moderation.decided event.
type ModerationDecidedData struct {
	ReviewID string `json:"review_id"`
	Status   string `json:"status"`
}

// ReplyChangedData is the payload of a review.reply_changed event.
type ReplyChangedData struct {
	ReviewID string `json:"review_id"`
	Delta    int    `json:"delta"`
}

// Consumer processes incoming Kafka events for the review service.
type Consumer struct {
	moderation ModerationService
	replies    ReplyCounter
	logger     *slog.Logger
}

// NewConsumer creates a new event consumer.
func NewConsumer(moderation ModerationService, replies ReplyCounter, logger *slog.Logger) *Consumer {
	return &Consumer{moderation: moderation, replies: replies, logger: logger}
}

// HandleModerationDecided applies a moderation decision to the review.
func (c *Consumer) HandleModerationDecided(ctx context.Context, event *pkgkafka.Event) error {
	var data ModerationDecidedData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal moderation.decided data: %w", err)
	}

	c.logger.InfoContext(ctx, "processing moderation.decided event",
		slog.String("review_id", data.ReviewID),
		slog.String("status", data.Status),
	)

	status, err := domain.ParseReviewStatus(data.Status)
	if err == nil {
		_, err = c.moderation.SetStatus(ctx, data.ReviewID, status)
	}
	if err != nil {
		if permanent(err) {
			c.logger.WarnContext(ctx, "dropping moderation decision",
				slog.String("review_id", data.ReviewID),
				slog.String("status", data.Status),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return fmt.Errorf("set status of review %s: %w", data.ReviewID, err)
	}

	return nil
}

// HandleReplyChanged applies a reply counter change.
func (c *Consumer) HandleReplyChanged(ctx context.Context, event *pkgkafka.Event) error {
	var data ReplyChangedData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal review.reply_changed data: %w", err)
	}

	total, err := c.replies.AdjustReplies(ctx, data.ReviewID, data.Delta)
	if err != nil {
		if permanent(err) {
			c.logger.WarnContext(ctx, "dropping reply change",
				slog.String("review_id", data.ReviewID),
				slog.Int("delta", data.Delta),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return fmt.Errorf("adjust replies of review %s: %w", data.ReviewID, err)
	}

	c.logger.DebugContext(ctx, "reply counter adjusted",
		slog.String("review_id", data.ReviewID),
		slog.Int("total_replies", total),
	)
	return nil
}

// permanent reports whether retrying err cannot succeed.
func permanent(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrInvalidInput) ||
		errors.Is(err, apperrors.ErrConflict)
}
