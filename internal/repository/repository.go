package repository

import (
	"context"
	"time"

	"github.com/marketplace/reviewcore/internal/domain"
)

// ReviewFilter selects active reviews. Empty fields do not filter.
type ReviewFilter struct {
	ProductID  string
	ReviewerID string
	Status     *domain.ReviewStatus
	Page       int
	PerPage    int
}

// ReviewStore persists reviews. Every Find and Count method except FindByID
// and FindHistory only sees reviews that are not soft-deleted.
type ReviewStore interface {
	// Create inserts review. It fails with apperrors.ErrDuplicateReview when
	// the reviewer already has an active review of the product; the check and
	// the insert are atomic.
	Create(ctx context.Context, review *domain.Review) error

	// Update writes the mutable fields of an active review if its stored
	// version still equals review.Version, then increments review.Version. A
	// review changed since it was read fails with apperrors.ErrStaleWrite; a
	// deleted or missing one with apperrors.ErrNotFound.
	Update(ctx context.Context, review *domain.Review) error

	// FindByIDActive returns the active review with id.
	FindByIDActive(ctx context.Context, id string) (*domain.Review, error)

	// FindByID returns the review with id whether or not it is deleted.
	FindByID(ctx context.Context, id string) (*domain.Review, error)

	// FindActive returns a page of active reviews, newest first, and the total
	// number of matches.
	FindActive(ctx context.Context, filter ReviewFilter) ([]domain.Review, int, error)

	// CountActive returns the number of active reviews matching filter.
	CountActive(ctx context.Context, filter ReviewFilter) (int, error)

	// FindCounted returns every counted review of a product.
	FindCounted(ctx context.Context, productID string) ([]domain.Review, error)

	// FindHistory returns all reviews, deleted ones included, that reviewerID
	// wrote for productID, oldest first.
	FindHistory(ctx context.Context, reviewerID, productID string) ([]domain.Review, error)

	// SoftDelete marks an active review deleted by actor at the given time
	// and returns the row as written. Status and PublishedAt are those the
	// review held when it was deleted.
	SoftDelete(ctx context.Context, id string, by domain.Actor, at time.Time) (*domain.Review, error)

	// Restore clears the deletion flags of a deleted review and returns the
	// restored row. It fails with apperrors.ErrRestoreConflict when another
	// active review now holds the same reviewer and product; the check and
	// the update are atomic.
	Restore(ctx context.Context, id string, at time.Time) (*domain.Review, error)

	// HardDelete removes a review and its votes permanently and returns the
	// row as it was at removal.
	HardDelete(ctx context.Context, id string) (*domain.Review, error)

	// ProductIDs returns every product that has at least one review row.
	ProductIDs(ctx context.Context) ([]string, error)

	// AddHelpfulVote records a vote on an active review. A second vote by the
	// same voter fails with apperrors.ErrAlreadyExists.
	AddHelpfulVote(ctx context.Context, reviewID string, vote domain.HelpfulVote) (int, error)

	// RemoveHelpfulVote deletes a vote and returns the new count.
	RemoveHelpfulVote(ctx context.Context, reviewID, voterID string) (int, error)

	// AdjustReplies adds delta to the reply counter, flooring it at zero, and
	// returns the new value.
	AdjustReplies(ctx context.Context, reviewID string, delta int) (int, error)
}

// StatsStore persists product aggregate snapshots.
type StatsStore interface {
	// Get returns the stored snapshot, or apperrors.ErrNotFound.
	Get(ctx context.Context, productID string) (*domain.ProductStats, error)

	// Save replaces the snapshot of stats.ProductID in a single write. A
	// snapshot computed before the stored one is ignored, so an overlapping
	// slower recompute cannot overwrite a newer result.
	Save(ctx context.Context, stats domain.ProductStats) error

	// ProductIDs returns every product with a stored snapshot.
	ProductIDs(ctx context.Context) ([]string, error)
}

// StaleMarker tracks products whose snapshot may be out of date after a
// failed recompute.
type StaleMarker interface {
	MarkStale(ctx context.Context, productID string) error
	ClearStale(ctx context.Context, productID string) error
	StaleProducts(ctx context.Context) ([]string, error)
}

// UnlockFunc releases a lock taken by RecomputeLocker.
type UnlockFunc func(ctx context.Context) error

// RecomputeLocker serializes aggregate recomputes of the same product.
type RecomputeLocker interface {
	// Lock blocks until the product's lock is held or ctx is done.
	Lock(ctx context.Context, productID string) (UnlockFunc, error)
}
