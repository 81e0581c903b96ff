package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/repository"
	apperrors "github.com/marketplace/reviewcore/pkg/errors"
	"github.com/marketplace/reviewcore/pkg/pagination"
)

// Popular mention limits.
const (
	DefaultMentionLimit = 10
	MaxMentionLimit     = 50
	MinMentionCount     = 2
)

// ReviewQueryService serves read-only review and aggregate queries.
// Aggregates come from the stored snapshot and are never computed on read.
type ReviewQueryService struct {
	reviews repository.ReviewStore
	stats   repository.StatsStore
	logger  *slog.Logger
}

// NewReviewQueryService creates a query service.
func NewReviewQueryService(reviews repository.ReviewStore, stats repository.StatsStore, logger *slog.Logger) *ReviewQueryService {
	return &ReviewQueryService{reviews: reviews, stats: stats, logger: logger}
}

// GetReview returns an active review.
func (s *ReviewQueryService) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	r, err := s.reviews.FindByIDActive(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	return r, nil
}

// GetReviewHistory returns every review the reviewer wrote for the product,
// soft-deleted ones included, oldest first.
func (s *ReviewQueryService) GetReviewHistory(ctx context.Context, reviewerID, productID string) ([]domain.Review, error) {
	if reviewerID == "" || productID == "" {
		return nil, apperrors.Validation("reviewer_id and product_id are required")
	}
	history, err := s.reviews.FindHistory(ctx, reviewerID, productID)
	if err != nil {
		return nil, fmt.Errorf("get review history: %w", err)
	}
	return history, nil
}

// ListProductReviews returns a page of a product's active reviews, newest
// first, optionally restricted to one status.
func (s *ReviewQueryService) ListProductReviews(
	ctx context.Context,
	productID string,
	status *domain.ReviewStatus,
	params pagination.Params,
) (pagination.Result[domain.Review], error) {
	if status != nil && !status.Valid() {
		return pagination.Result[domain.Review]{}, apperrors.Validation(fmt.Sprintf("unknown review status %q", *status))
	}
	return s.list(ctx, repository.ReviewFilter{ProductID: productID, Status: status}, params)
}

// ListReviewerReviews returns a page of a reviewer's active reviews.
func (s *ReviewQueryService) ListReviewerReviews(ctx context.Context, reviewerID string, params pagination.Params) (pagination.Result[domain.Review], error) {
	return s.list(ctx, repository.ReviewFilter{ReviewerID: reviewerID}, params)
}

func (s *ReviewQueryService) list(ctx context.Context, filter repository.ReviewFilter, params pagination.Params) (pagination.Result[domain.Review], error) {
	if params.Page <= 0 || params.PerPage <= 0 {
		params = pagination.DefaultParams()
	}
	filter.Page, filter.PerPage = params.Page, params.PerPage

	reviews, total, err := s.reviews.FindActive(ctx, filter)
	if err != nil {
		return pagination.Result[domain.Review]{}, fmt.Errorf("list reviews: %w", err)
	}
	return pagination.NewResult(reviews, total, params), nil
}

// GetReviewStats returns the stored aggregate snapshot. A product that has
// never had a counted review gets the zero snapshot.
func (s *ReviewQueryService) GetReviewStats(ctx context.Context, productID string) (*domain.ProductStats, error) {
	st, err := s.stats.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			empty := domain.EmptyStats(productID)
			return &empty, nil
		}
		return nil, fmt.Errorf("get review stats: %w", err)
	}
	return st, nil
}

// GetPopularMentions returns the mentions found in at least two counted
// reviews, most frequent first, then by average rating.
func (s *ReviewQueryService) GetPopularMentions(ctx context.Context, productID string, limit int) ([]domain.MentionStat, error) {
	switch {
	case limit <= 0:
		limit = DefaultMentionLimit
	case limit > MaxMentionLimit:
		limit = MaxMentionLimit
	}

	st, err := s.GetReviewStats(ctx, productID)
	if err != nil {
		return nil, err
	}
	return st.PopularMentions(MinMentionCount, limit), nil
}
