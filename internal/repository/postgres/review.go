// Package postgres implements the repository interfaces on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/repository"
	"github.com/marketplace/reviewcore/pkg/database"
	apperrors "github.com/marketplace/reviewcore/pkg/errors"
)

// activeReviewIndex is the partial unique index that enforces one active
// review per reviewer and product.
const activeReviewIndex = "uq_reviews_active_reviewer_product"

const reviewColumns = `id, product_id, reviewer_id, title, content, overall_rating,
		sub_ratings, verification, attachments, status, is_deleted, deleted_at,
		deleted_by_id, deleted_by_kind, keywords, mentions, helpful_count,
		total_replies, submitted_at, published_at, updated_at, version`

// ReviewStore implements repository.ReviewStore using PostgreSQL.
type ReviewStore struct {
	pool database.DBTX
}

// NewReviewStore creates a new PostgreSQL-backed review store.
func NewReviewStore(pool database.DBTX) *ReviewStore {
	return &ReviewStore{pool: pool}
}

var _ repository.ReviewStore = (*ReviewStore)(nil)

type reviewJSON struct {
	subRatings   []byte
	verification []byte
	attachments  []byte
}

func encodeReview(r *domain.Review) (reviewJSON, error) {
	var (
		out reviewJSON
		err error
	)
	sub := r.SubRatings
	if sub == nil {
		sub = domain.SubRatings{}
	}
	if out.subRatings, err = json.Marshal(sub); err != nil {
		return out, fmt.Errorf("marshal sub ratings: %w", err)
	}
	if out.verification, err = json.Marshal(r.Verification); err != nil {
		return out, fmt.Errorf("marshal verification: %w", err)
	}
	attachments := r.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	if out.attachments, err = json.Marshal(attachments); err != nil {
		return out, fmt.Errorf("marshal attachments: %w", err)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Create inserts a new review. The partial unique index rejects a second
// active review for the same reviewer and product.
func (s *ReviewStore) Create(ctx context.Context, review *domain.Review) (err error) {
	query := `
		INSERT INTO reviews (` + reviewColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	ctx, end := database.TraceQuery(ctx, "CreateReview", query)
	defer func() { end(err) }()

	enc, err := encodeReview(review)
	if err != nil {
		return err
	}

	var deletedByID, deletedByKind *string
	if review.DeletedBy != nil {
		id, kind := review.DeletedBy.ID, string(review.DeletedBy.Kind)
		deletedByID, deletedByKind = &id, &kind
	}

	_, err = s.pool.Exec(ctx, query,
		review.ID,
		review.ProductID,
		review.ReviewerID,
		review.Title,
		review.Content,
		review.OverallRating,
		enc.subRatings,
		enc.verification,
		enc.attachments,
		string(review.Status),
		review.IsDeleted,
		review.DeletedAt,
		deletedByID,
		deletedByKind,
		nonNil(review.Keywords),
		nonNil(review.Mentions),
		review.HelpfulCount,
		review.TotalReplies,
		review.SubmittedAt,
		review.PublishedAt,
		review.UpdatedAt,
		max(review.Version, 1),
	)
	if err != nil {
		switch {
		case database.IsUniqueViolation(err, activeReviewIndex):
			return apperrors.DuplicateReview(review.ReviewerID, review.ProductID)
		case database.IsUniqueViolation(err, ""):
			return apperrors.AlreadyExists("review", "id", review.ID)
		}
		return fmt.Errorf("insert review: %w", err)
	}

	return nil
}

// Update writes the editable and moderation fields of an active review,
// provided nobody has written it since review.Version was read.
func (s *ReviewStore) Update(ctx context.Context, review *domain.Review) (err error) {
	query := `
		UPDATE reviews
		SET title = $2, content = $3, overall_rating = $4, sub_ratings = $5,
		    verification = $6, attachments = $7, status = $8, keywords = $9,
		    mentions = $10, published_at = $11, updated_at = $12, version = version + 1
		WHERE id = $1 AND is_deleted = FALSE AND version = $13
		RETURNING version`

	ctx, end := database.TraceQuery(ctx, "UpdateReview", query)
	defer func() { end(err) }()

	enc, err := encodeReview(review)
	if err != nil {
		return err
	}

	var version int
	err = s.pool.QueryRow(ctx, query,
		review.ID,
		review.Title,
		review.Content,
		review.OverallRating,
		enc.subRatings,
		enc.verification,
		enc.attachments,
		string(review.Status),
		nonNil(review.Keywords),
		nonNil(review.Mentions),
		review.PublishedAt,
		review.UpdatedAt,
		review.Version,
	).Scan(&version)
	if err == nil {
		review.Version = version
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update review: %w", err)
	}

	var deleted bool
	err = s.pool.QueryRow(ctx, `SELECT is_deleted FROM reviews WHERE id = $1`, review.ID).Scan(&deleted)
	switch {
	case errors.Is(err, pgx.ErrNoRows), err == nil && deleted:
		return apperrors.NotFound("review", review.ID)
	case err != nil:
		return fmt.Errorf("check review state: %w", err)
	}
	return apperrors.StaleWrite("review", review.ID)
}

// FindByIDActive returns the review with id unless it is soft-deleted.
func (s *ReviewStore) FindByIDActive(ctx context.Context, id string) (_ *domain.Review, err error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1 AND is_deleted = FALSE`

	ctx, end := database.TraceQuery(ctx, "FindReviewByIDActive", query)
	defer func() { end(err) }()

	return s.findOne(ctx, query, id)
}

// FindByID returns the review with id, including soft-deleted rows.
func (s *ReviewStore) FindByID(ctx context.Context, id string) (_ *domain.Review, err error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "FindReviewByID", query)
	defer func() { end(err) }()

	return s.findOne(ctx, query, id)
}

func (s *ReviewStore) findOne(ctx context.Context, query, id string) (*domain.Review, error) {
	r, err := scanReview(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("review", id)
		}
		return nil, fmt.Errorf("get review: %w", err)
	}
	return r, nil
}

// activeConditions builds the WHERE clause for filter.
func activeConditions(filter repository.ReviewFilter) (string, []any) {
	conditions := []string{"is_deleted = FALSE"}
	var args []any

	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		conditions = append(conditions, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.ReviewerID != "" {
		args = append(args, filter.ReviewerID)
		conditions = append(conditions, fmt.Sprintf("reviewer_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// FindActive returns a page of active reviews, newest first, with the total
// number of matching rows.
func (s *ReviewStore) FindActive(ctx context.Context, filter repository.ReviewFilter) (_ []domain.Review, _ int, err error) {
	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}

	where, args := activeConditions(filter)
	query := `SELECT ` + reviewColumns + `, count(*) OVER() AS total_count FROM reviews` + where +
		fmt.Sprintf(" ORDER BY submitted_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	ctx, end := database.TraceQuery(ctx, "FindActiveReviews", query)
	defer func() { end(err) }()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var (
		reviews    = []domain.Review{}
		totalCount int
	)
	for rows.Next() {
		r, err := scanReview(rows, &totalCount)
		if err != nil {
			return nil, 0, fmt.Errorf("scan review row: %w", err)
		}
		reviews = append(reviews, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate review rows: %w", err)
	}

	// A page past the end carries no window count.
	if len(reviews) == 0 && offset > 0 {
		totalCount, err = s.CountActive(ctx, filter)
		if err != nil {
			return nil, 0, err
		}
	}

	return reviews, totalCount, nil
}

// CountActive returns the number of active reviews matching filter.
func (s *ReviewStore) CountActive(ctx context.Context, filter repository.ReviewFilter) (_ int, err error) {
	where, args := activeConditions(filter)
	query := `SELECT COUNT(*) FROM reviews` + where

	ctx, end := database.TraceQuery(ctx, "CountActiveReviews", query)
	defer func() { end(err) }()

	var n int
	if err = s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return n, nil
}

// FindCounted returns every review contributing to the product's aggregate.
func (s *ReviewStore) FindCounted(ctx context.Context, productID string) (_ []domain.Review, err error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE product_id = $1
		  AND status = 'approved'
		  AND published_at IS NOT NULL
		  AND is_deleted = FALSE
		ORDER BY id`

	ctx, end := database.TraceQuery(ctx, "FindCountedReviews", query)
	defer func() { end(err) }()

	return s.findMany(ctx, query, productID)
}

// FindHistory returns every review, deleted or not, that the reviewer wrote
// for the product, oldest first.
func (s *ReviewStore) FindHistory(ctx context.Context, reviewerID, productID string) (_ []domain.Review, err error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE reviewer_id = $1 AND product_id = $2
		ORDER BY submitted_at ASC, id ASC`

	ctx, end := database.TraceQuery(ctx, "FindReviewHistory", query)
	defer func() { end(err) }()

	return s.findMany(ctx, query, reviewerID, productID)
}

func (s *ReviewStore) findMany(ctx context.Context, query string, args ...any) ([]domain.Review, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	reviews := []domain.Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review row: %w", err)
		}
		reviews = append(reviews, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review rows: %w", err)
	}
	return reviews, nil
}

// SoftDelete flags an active review as deleted and returns the updated row.
// Moderation status is kept.
func (s *ReviewStore) SoftDelete(ctx context.Context, id string, by domain.Actor, at time.Time) (_ *domain.Review, err error) {
	query := `
		UPDATE reviews
		SET is_deleted = TRUE, deleted_at = $2, deleted_by_id = $3, deleted_by_kind = $4,
		    updated_at = $2, version = version + 1
		WHERE id = $1 AND is_deleted = FALSE
		RETURNING ` + reviewColumns

	ctx, end := database.TraceQuery(ctx, "SoftDeleteReview", query)
	defer func() { end(err) }()

	r, err := scanReview(s.pool.QueryRow(ctx, query, id, at, by.ID, string(by.Kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("review", id)
		}
		return nil, fmt.Errorf("soft delete review: %w", err)
	}
	return r, nil
}

// Restore clears the deletion flags and returns the restored row. The
// partial unique index turns a concurrent or earlier active review for the
// same pair into a restore conflict.
func (s *ReviewStore) Restore(ctx context.Context, id string, at time.Time) (_ *domain.Review, err error) {
	query := `
		UPDATE reviews
		SET is_deleted = FALSE, deleted_at = NULL, deleted_by_id = NULL, deleted_by_kind = NULL,
		    updated_at = $2, version = version + 1
		WHERE id = $1 AND is_deleted = TRUE
		RETURNING ` + reviewColumns

	ctx, end := database.TraceQuery(ctx, "RestoreReview", query)
	defer func() { end(err) }()

	r, err := scanReview(s.pool.QueryRow(ctx, query, id, at))
	if err == nil {
		return r, nil
	}
	if database.IsUniqueViolation(err, activeReviewIndex) {
		return nil, apperrors.RestoreConflict(id)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("restore review: %w", err)
	}

	var deleted bool
	err = s.pool.QueryRow(ctx, `SELECT is_deleted FROM reviews WHERE id = $1`, id).Scan(&deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("review", id)
		}
		return nil, fmt.Errorf("check review state: %w", err)
	}
	return nil, apperrors.InvalidState(fmt.Sprintf("review %s is not deleted", id))
}

// HardDelete removes the review row and returns it as it was. Votes are
// removed by cascade.
func (s *ReviewStore) HardDelete(ctx context.Context, id string) (_ *domain.Review, err error) {
	query := `DELETE FROM reviews WHERE id = $1 RETURNING ` + reviewColumns

	ctx, end := database.TraceQuery(ctx, "HardDeleteReview", query)
	defer func() { end(err) }()

	r, err := scanReview(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("review", id)
		}
		return nil, fmt.Errorf("delete review: %w", err)
	}
	return r, nil
}

// ProductIDs returns every product with at least one review row.
func (s *ReviewStore) ProductIDs(ctx context.Context) (_ []string, err error) {
	query := `SELECT DISTINCT product_id FROM reviews ORDER BY product_id`

	ctx, end := database.TraceQuery(ctx, "ReviewProductIDs", query)
	defer func() { end(err) }()

	return queryStrings(ctx, s.pool, query)
}

// AddHelpfulVote inserts the vote and bumps the counter in one transaction.
func (s *ReviewStore) AddHelpfulVote(ctx context.Context, reviewID string, vote domain.HelpfulVote) (count int, err error) {
	ctx, end := database.TraceQuery(ctx, "AddHelpfulVote", "INSERT INTO review_helpful_votes")
	defer func() { end(err) }()

	err = database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE reviews SET helpful_count = helpful_count + 1
			WHERE id = $1 AND is_deleted = FALSE
			RETURNING helpful_count`, reviewID).Scan(&count)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NotFound("review", reviewID)
			}
			return fmt.Errorf("increment helpful count: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO review_helpful_votes (review_id, voter_id, voted_at)
			VALUES ($1, $2, $3)`, reviewID, vote.VoterID, vote.VotedAt)
		if err != nil {
			if database.IsUniqueViolation(err, "") {
				return apperrors.AlreadyExists("helpful vote", "voter_id", vote.VoterID)
			}
			return fmt.Errorf("insert helpful vote: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RemoveHelpfulVote deletes the vote and decrements the counter in one
// transaction.
func (s *ReviewStore) RemoveHelpfulVote(ctx context.Context, reviewID, voterID string) (count int, err error) {
	ctx, end := database.TraceQuery(ctx, "RemoveHelpfulVote", "DELETE FROM review_helpful_votes")
	defer func() { end(err) }()

	err = database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE reviews SET helpful_count = GREATEST(helpful_count - 1, 0)
			WHERE id = $1 AND is_deleted = FALSE
			RETURNING helpful_count`, reviewID).Scan(&count)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NotFound("review", reviewID)
			}
			return fmt.Errorf("decrement helpful count: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM review_helpful_votes WHERE review_id = $1 AND voter_id = $2`,
			reviewID, voterID)
		if err != nil {
			return fmt.Errorf("delete helpful vote: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.NotFound("helpful vote", voterID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AdjustReplies adds delta to the reply counter without going below zero.
func (s *ReviewStore) AdjustReplies(ctx context.Context, reviewID string, delta int) (_ int, err error) {
	query := `
		UPDATE reviews SET total_replies = GREATEST(total_replies + $2, 0)
		WHERE id = $1
		RETURNING total_replies`

	ctx, end := database.TraceQuery(ctx, "AdjustReplies", query)
	defer func() { end(err) }()

	var n int
	if err = s.pool.QueryRow(ctx, query, reviewID, delta).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.NotFound("review", reviewID)
		}
		return 0, fmt.Errorf("adjust replies: %w", err)
	}
	return n, nil
}

// scanReview scans one row selected with reviewColumns. extra receives any
// trailing columns.
func scanReview(row pgx.Row, extra ...any) (*domain.Review, error) {
	var (
		r                                    domain.Review
		subJSON, verificationJSON, attachJSON []byte
		status                               string
		deletedByID, deletedByKind           *string
	)

	dest := []any{
		&r.ID,
		&r.ProductID,
		&r.ReviewerID,
		&r.Title,
		&r.Content,
		&r.OverallRating,
		&subJSON,
		&verificationJSON,
		&attachJSON,
		&status,
		&r.IsDeleted,
		&r.DeletedAt,
		&deletedByID,
		&deletedByKind,
		&r.Keywords,
		&r.Mentions,
		&r.HelpfulCount,
		&r.TotalReplies,
		&r.SubmittedAt,
		&r.PublishedAt,
		&r.UpdatedAt,
		&r.Version,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	r.Status = domain.ReviewStatus(status)
	if deletedByID != nil {
		actor := domain.Actor{ID: *deletedByID}
		if deletedByKind != nil {
			actor.Kind = domain.ActorKind(*deletedByKind)
		}
		r.DeletedBy = &actor
	}

	if len(subJSON) > 0 {
		if err := json.Unmarshal(subJSON, &r.SubRatings); err != nil {
			return nil, fmt.Errorf("unmarshal sub ratings: %w", err)
		}
	}
	if len(verificationJSON) > 0 {
		if err := json.Unmarshal(verificationJSON, &r.Verification); err != nil {
			return nil, fmt.Errorf("unmarshal verification: %w", err)
		}
	}
	if len(attachJSON) > 0 {
		if err := json.Unmarshal(attachJSON, &r.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	if r.Keywords == nil {
		r.Keywords = []string{}
	}
	if r.Mentions == nil {
		r.Mentions = []string{}
	}

	return &r, nil
}

func queryStrings(ctx context.Context, db database.DBTX, query string, args ...any) ([]string, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return out, nil
}
