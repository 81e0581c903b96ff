// Package service holds the review lifecycle, aggregate and query logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/keyword"
	"github.com/marketplace/reviewcore/internal/repository"
	apperrors "github.com/marketplace/reviewcore/pkg/errors"
)

// Recomputer rebuilds a product's aggregate snapshot.
type Recomputer interface {
	Recompute(ctx context.Context, productID string) (*domain.ProductStats, error)
}

// Notifier announces durable review state changes. Implementations must not
// block on or report delivery failures.
type Notifier interface {
	Notify(ctx context.Context, event domain.ReviewEvent)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.ReviewEvent) {}

// CreateReviewInput holds the parameters for creating a review. Caller
// identity and authorization are established upstream.
type CreateReviewInput struct {
	ProductID     string
	ReviewerID    string
	Title         string
	Content       string
	OverallRating int
	SubRatings    domain.SubRatings
	Verification  domain.Verification
	Attachments   []domain.Attachment
}

// ReviewLifecycleManager owns every review state transition and decides when
// a product's aggregate must be recomputed: whenever a review enters or
// leaves the counted set, or a counted review's ratings or mentions change.
type ReviewLifecycleManager struct {
	store         repository.ReviewStore
	recomputer    Recomputer
	notifier      Notifier
	initialStatus domain.ReviewStatus
	logger        *slog.Logger

	extract func(title, content string) ([]string, []string)
	now     func() time.Time
	newID   func() string
}

// NewReviewLifecycleManager creates a lifecycle manager. New reviews start in
// initialStatus. notifier may be nil.
func NewReviewLifecycleManager(
	store repository.ReviewStore,
	recomputer Recomputer,
	notifier Notifier,
	initialStatus domain.ReviewStatus,
	logger *slog.Logger,
) *ReviewLifecycleManager {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if !initialStatus.Valid() {
		initialStatus = domain.ReviewStatusPending
	}
	return &ReviewLifecycleManager{
		store:         store,
		recomputer:    recomputer,
		notifier:      notifier,
		initialStatus: initialStatus,
		logger:        logger,
		extract:       keyword.Extract,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
}

// CreateReview validates and stores a new review. A reviewer with an active
// review of the product gets a DUPLICATE_REVIEW error.
func (m *ReviewLifecycleManager) CreateReview(ctx context.Context, input CreateReviewInput) (*domain.Review, error) {
	if input.ProductID == "" {
		return nil, apperrors.Validation("product_id is required")
	}
	if input.ReviewerID == "" {
		return nil, apperrors.Validation("reviewer_id is required")
	}
	if err := domain.ValidateContent(input.Title, input.Content, input.OverallRating, input.SubRatings); err != nil {
		return nil, err
	}
	if err := input.Verification.Validate(); err != nil {
		return nil, err
	}

	now := m.now()
	keywords, mentions := m.extract(input.Title, input.Content)

	review := &domain.Review{
		ID:            m.newID(),
		ProductID:     input.ProductID,
		ReviewerID:    input.ReviewerID,
		Title:         input.Title,
		Content:       input.Content,
		OverallRating: input.OverallRating,
		SubRatings:    input.SubRatings,
		Verification:  input.Verification,
		Attachments:   input.Attachments,
		Keywords:      keywords,
		Mentions:      mentions,
		SubmittedAt:   now,
		UpdatedAt:     now,
		Version:       1,
	}
	if review.SubRatings == nil {
		review.SubRatings = domain.SubRatings{}
	}
	if review.Attachments == nil {
		review.Attachments = []domain.Attachment{}
	}
	review.ApplyStatus(m.initialStatus, now)

	if err := m.store.Create(ctx, review); err != nil {
		return nil, fmt.Errorf("create review: %w", err)
	}

	m.logger.InfoContext(ctx, "review created",
		slog.String("review_id", review.ID),
		slog.String("product_id", review.ProductID),
		slog.String("reviewer_id", review.ReviewerID),
		slog.String("status", string(review.Status)),
	)

	m.notifier.Notify(ctx, domain.NewReviewEvent(review, domain.ReviewEventCreated))
	if review.IsCounted() {
		m.recompute(ctx, review.ProductID)
	}

	return review, nil
}

// maxUpdateAttempts bounds how often UpdateReview re-reads a review that
// another writer changed between its read and its write.
const maxUpdateAttempts = 5

// UpdateReview applies patch to an active review. The write only lands on
// the version that was read, so the recompute decision always compares the
// committed state before and after this write.
func (m *ReviewLifecycleManager) UpdateReview(ctx context.Context, id string, patch domain.ReviewPatch) (*domain.Review, error) {
	for attempt := 1; ; attempt++ {
		cur, err := m.store.FindByIDActive(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("update review: %w", err)
		}

		next, statusChanged, err := m.applyPatch(cur, patch)
		if err != nil {
			return nil, err
		}

		err = m.store.Update(ctx, next)
		if errors.Is(err, apperrors.ErrStaleWrite) && attempt < maxUpdateAttempts {
			m.logger.DebugContext(ctx, "review changed concurrently, retrying update",
				slog.String("review_id", id),
				slog.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update review: %w", err)
		}

		m.logger.InfoContext(ctx, "review updated",
			slog.String("review_id", next.ID),
			slog.String("product_id", next.ProductID),
			slog.String("status", string(next.Status)),
		)

		if statusChanged {
			if t, ok := domain.StatusEvent(next.Status); ok {
				m.notifier.Notify(ctx, domain.NewReviewEvent(next, t))
			}
		}

		if needsRecompute(cur, next) {
			m.recompute(ctx, next.ProductID)
		}

		return next, nil
	}
}

// applyPatch returns cur with patch applied and validated, and whether the
// status changed.
func (m *ReviewLifecycleManager) applyPatch(cur *domain.Review, patch domain.ReviewPatch) (*domain.Review, bool, error) {
	next := *cur
	if patch.Title != nil {
		next.Title = *patch.Title
	}
	if patch.Content != nil {
		next.Content = *patch.Content
	}
	if patch.OverallRating != nil {
		next.OverallRating = *patch.OverallRating
	}
	if patch.SubRatings != nil {
		next.SubRatings = patch.SubRatings
	}
	if patch.Attachments != nil {
		next.Attachments = patch.Attachments
	}
	if patch.Verification != nil {
		if err := patch.Verification.Validate(); err != nil {
			return nil, false, err
		}
		next.Verification = *patch.Verification
	}
	if err := domain.ValidateContent(next.Title, next.Content, next.OverallRating, next.SubRatings); err != nil {
		return nil, false, err
	}

	now := m.now()
	if next.Title != cur.Title || next.Content != cur.Content {
		next.Keywords, next.Mentions = m.extract(next.Title, next.Content)
	}

	statusChanged := false
	if patch.Status != nil && *patch.Status != cur.Status {
		if !patch.Status.Valid() {
			return nil, false, apperrors.Validation(fmt.Sprintf("unknown review status %q", *patch.Status))
		}
		next.ApplyStatus(*patch.Status, now)
		statusChanged = true
	}
	next.UpdatedAt = now
	return &next, statusChanged, nil
}

// needsRecompute reports whether moving from before to after can change the
// product aggregate.
func needsRecompute(before, after *domain.Review) bool {
	wasCounted, isCounted := before.IsCounted(), after.IsCounted()
	if wasCounted != isCounted {
		return true
	}
	if !isCounted {
		return false
	}
	return before.OverallRating != after.OverallRating ||
		!before.SubRatings.Equal(after.SubRatings) ||
		!sameSet(before.Mentions, after.Mentions)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// SetStatus applies a moderation decision. It is the only way moderation
// changes a review's status.
func (m *ReviewLifecycleManager) SetStatus(ctx context.Context, id string, status domain.ReviewStatus) (*domain.Review, error) {
	if !status.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("unknown review status %q", status))
	}
	return m.UpdateReview(ctx, id, domain.ReviewPatch{Status: &status})
}

// SoftDelete marks an active review deleted by actor, freeing the reviewer's
// slot for the product. Moderation status is kept.
func (m *ReviewLifecycleManager) SoftDelete(ctx context.Context, id string, actor domain.Actor) error {
	deleted, err := m.store.SoftDelete(ctx, id, actor, m.now())
	if err != nil {
		return fmt.Errorf("soft delete review: %w", err)
	}

	m.logger.InfoContext(ctx, "review soft deleted",
		slog.String("review_id", id),
		slog.String("product_id", deleted.ProductID),
		slog.String("deleted_by", actor.ID),
		slog.String("deleted_by_kind", string(actor.Kind)),
	)

	m.notifier.Notify(ctx, domain.NewReviewEvent(deleted, domain.ReviewEventDeleted))
	// The returned row holds the status the review had when it was deleted.
	if deleted.IsPublished() {
		m.recompute(ctx, deleted.ProductID)
	}
	return nil
}

// Restore reactivates a soft-deleted review. It fails with RESTORE_CONFLICT
// when the reviewer has since written another active review of the product.
func (m *ReviewLifecycleManager) Restore(ctx context.Context, id string) (*domain.Review, error) {
	review, err := m.store.Restore(ctx, id, m.now())
	if err != nil {
		return nil, fmt.Errorf("restore review: %w", err)
	}

	m.logger.InfoContext(ctx, "review restored",
		slog.String("review_id", id),
		slog.String("product_id", review.ProductID),
	)

	m.notifier.Notify(ctx, domain.NewReviewEvent(review, domain.ReviewEventRestored))
	if review.IsCounted() {
		m.recompute(ctx, review.ProductID)
	}
	return review, nil
}

// PurgeReview permanently removes a review, deleted or not.
func (m *ReviewLifecycleManager) PurgeReview(ctx context.Context, id string) error {
	review, err := m.store.HardDelete(ctx, id)
	if err != nil {
		return fmt.Errorf("purge review: %w", err)
	}

	m.logger.WarnContext(ctx, "review purged",
		slog.String("review_id", id),
		slog.String("product_id", review.ProductID),
	)

	m.notifier.Notify(ctx, domain.NewReviewEvent(review, domain.ReviewEventDeleted))
	if review.IsCounted() {
		m.recompute(ctx, review.ProductID)
	}
	return nil
}

// recompute runs after the triggering write has been persisted. Its failure
// leaves the review write in place; the recomputer has already flagged the
// product for reconciliation.
func (m *ReviewLifecycleManager) recompute(ctx context.Context, productID string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := m.recomputer.Recompute(ctx, productID); err != nil {
		m.logger.ErrorContext(ctx, "aggregate recompute failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}
}
