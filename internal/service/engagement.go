package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/repository"
	apperrors "github.com/marketplace/reviewcore/pkg/errors"
)

// EngagementService maintains helpful votes and reply counters. Engagement
// never affects the rating aggregate.
type EngagementService struct {
	reviews repository.ReviewStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngagementService creates an engagement service.
func NewEngagementService(reviews repository.ReviewStore, logger *slog.Logger) *EngagementService {
	return &EngagementService{
		reviews: reviews,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// VoteHelpful records voterID finding the review helpful and returns the new
// vote count. Reviewers cannot vote on their own reviews.
func (s *EngagementService) VoteHelpful(ctx context.Context, reviewID, voterID string) (int, error) {
	if voterID == "" {
		return 0, apperrors.Validation("voter_id is required")
	}

	review, err := s.reviews.FindByIDActive(ctx, reviewID)
	if err != nil {
		return 0, fmt.Errorf("vote helpful: %w", err)
	}
	if review.ReviewerID == voterID {
		return 0, apperrors.Validation("reviewers cannot vote on their own review")
	}

	count, err := s.reviews.AddHelpfulVote(ctx, reviewID, domain.HelpfulVote{VoterID: voterID, VotedAt: s.now()})
	if err != nil {
		return 0, fmt.Errorf("vote helpful: %w", err)
	}

	s.logger.InfoContext(ctx, "helpful vote recorded",
		slog.String("review_id", reviewID),
		slog.String("voter_id", voterID),
		slog.Int("helpful_count", count),
	)
	return count, nil
}

// RemoveHelpfulVote withdraws voterID's vote and returns the new count.
func (s *EngagementService) RemoveHelpfulVote(ctx context.Context, reviewID, voterID string) (int, error) {
	if voterID == "" {
		return 0, apperrors.Validation("voter_id is required")
	}
	count, err := s.reviews.RemoveHelpfulVote(ctx, reviewID, voterID)
	if err != nil {
		return 0, fmt.Errorf("remove helpful vote: %w", err)
	}
	return count, nil
}

// AdjustReplies applies a reply counter change reported by the discussion
// service. The counter never drops below zero.
func (s *EngagementService) AdjustReplies(ctx context.Context, reviewID string, delta int) (int, error) {
	if delta == 0 {
		return 0, apperrors.Validation("delta must not be zero")
	}
	total, err := s.reviews.AdjustReplies(ctx, reviewID, delta)
	if err != nil {
		return 0, fmt.Errorf("adjust replies: %w", err)
	}
	return total, nil
}
