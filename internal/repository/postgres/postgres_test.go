package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/repository"
	"github.com/marketplace/reviewcore/pkg/database"
	apperrors "github.com/marketplace/reviewcore/pkg/errors"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var now = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

var reviewColumnNames = []string{
	"id", "product_id", "reviewer_id", "title", "content", "overall_rating",
	"sub_ratings", "verification", "attachments", "status", "is_deleted", "deleted_at",
	"deleted_by_id", "deleted_by_kind", "keywords", "mentions", "helpful_count",
	"total_replies", "submitted_at", "published_at", "updated_at", "version",
}

func sampleReview() domain.Review {
	published := now
	return domain.Review{
		ID:            "rev-1",
		ProductID:     "prod-1",
		ReviewerID:    "user-1",
		Title:         "Solid dashboard",
		Content:       "The dashboard and reporting are great",
		OverallRating: 4,
		SubRatings:    domain.SubRatings{"ease_of_use": 5, "support": 0},
		Verification: domain.Verification{
			Proof: domain.CompanyEmailProof{Email: "ana@acme.io", Domain: "acme.io"},
		},
		Attachments: []domain.Attachment{{FileName: "shot.png", FileURL: "https://cdn/shot.png", FileType: "image/png", FileSize: 1024}},
		Status:      domain.ReviewStatusApproved,
		Keywords:    []string{"dashboard", "reporting", "great"},
		Mentions:    []string{"dashboard", "reporting"},
		SubmittedAt: now,
		PublishedAt: &published,
		UpdatedAt:   now,
		Version:     3,
	}
}

func reviewRow(t *testing.T, r domain.Review) []any {
	t.Helper()
	sub, err := json.Marshal(r.SubRatings)
	require.NoError(t, err)
	verification, err := json.Marshal(r.Verification)
	require.NoError(t, err)
	attachments, err := json.Marshal(r.Attachments)
	require.NoError(t, err)

	var deletedByID, deletedByKind *string
	if r.DeletedBy != nil {
		id, kind := r.DeletedBy.ID, string(r.DeletedBy.Kind)
		deletedByID, deletedByKind = &id, &kind
	}
	return []any{
		r.ID, r.ProductID, r.ReviewerID, r.Title, r.Content, r.OverallRating,
		sub, verification, attachments, string(r.Status), r.IsDeleted, r.DeletedAt,
		deletedByID, deletedByKind, r.Keywords, r.Mentions, r.HelpfulCount,
		r.TotalReplies, r.SubmittedAt, r.PublishedAt, r.UpdatedAt, r.Version,
	}
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// ─── ReviewStore ─────────────────────────────────────────────────────────────

func TestReviewStore_Create_Success(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)
	r := sampleReview()

	mock.ExpectExec("INSERT INTO reviews").
		WithArgs(anyArgs(22)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Create(context.Background(), &r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_Create_DuplicateActiveReview(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)
	r := sampleReview()

	mock.ExpectExec("INSERT INTO reviews").
		WithArgs(anyArgs(22)...).
		WillReturnError(uniqueViolation(activeReviewIndex))

	err := store.Create(context.Background(), &r)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateReview)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_Create_DuplicateID(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)
	r := sampleReview()

	mock.ExpectExec("INSERT INTO reviews").
		WithArgs(anyArgs(22)...).
		WillReturnError(uniqueViolation("reviews_pkey"))

	err := store.Create(context.Background(), &r)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_Update_BumpsVersion(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)
	r := sampleReview()

	args := append(anyArgs(12), 3)
	mock.ExpectQuery("UPDATE reviews\\s+SET .+ WHERE id = \\$1 AND is_deleted = FALSE AND version = \\$13").
		WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(4))

	require.NoError(t, store.Update(context.Background(), &r))
	assert.Equal(t, 4, r.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_Update_NoRowWritten(t *testing.T) {
	tests := []struct {
		name    string
		state   func(mock pgxmock.PgxPoolIface)
		wantErr error
	}{
		{
			name: "changed since read",
			state: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT is_deleted FROM reviews").
					WithArgs("rev-1").
					WillReturnRows(pgxmock.NewRows([]string{"is_deleted"}).AddRow(false))
			},
			wantErr: apperrors.ErrStaleWrite,
		},
		{
			name: "deleted",
			state: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT is_deleted FROM reviews").
					WithArgs("rev-1").
					WillReturnRows(pgxmock.NewRows([]string{"is_deleted"}).AddRow(true))
			},
			wantErr: apperrors.ErrNotFound,
		},
		{
			name: "missing",
			state: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT is_deleted FROM reviews").
					WithArgs("rev-1").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: apperrors.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			store := NewReviewStore(mock)
			r := sampleReview()

			mock.ExpectQuery("UPDATE reviews").
				WithArgs(anyArgs(13)...).
				WillReturnError(pgx.ErrNoRows)
			tt.state(mock)

			err := store.Update(context.Background(), &r)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 3, r.Version, "version is only advanced by a successful write")
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReviewStore_FindByIDActive(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)
	r := sampleReview()

	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id = \\$1 AND is_deleted = FALSE").
		WithArgs("rev-1").
		WillReturnRows(pgxmock.NewRows(reviewColumnNames).AddRow(reviewRow(t, r)...))

	got, err := store.FindByIDActive(context.Background(), "rev-1")
	require.NoError(t, err)
	assert.Equal(t, "rev-1", got.ID)
	assert.Equal(t, domain.ReviewStatusApproved, got.Status)
	assert.Equal(t, 5, got.SubRatings["ease_of_use"])
	assert.Equal(t, domain.VerificationCompanyEmail, got.Verification.Type())
	assert.Equal(t, r.Attachments, got.Attachments)
	assert.Nil(t, got.DeletedBy)
	assert.True(t, got.IsCounted())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_FindByID_NotFound(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)

	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_FindByID_DeletedReview(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)
	r := sampleReview()
	deletedAt := now.Add(time.Hour)
	r.IsDeleted = true
	r.DeletedAt = &deletedAt
	r.DeletedBy = &domain.Actor{ID: "mod-1", Kind: domain.ActorModerator}

	mock.ExpectQuery("SELECT .+ FROM reviews WHERE id").
		WithArgs("rev-1").
		WillReturnRows(pgxmock.NewRows(reviewColumnNames).AddRow(reviewRow(t, r)...))

	got, err := store.FindByID(context.Background(), "rev-1")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	require.NotNil(t, got.DeletedBy)
	assert.Equal(t, domain.Actor{ID: "mod-1", Kind: domain.ActorModerator}, *got.DeletedBy)
	assert.False(t, got.IsCounted())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_FindActive_WithFilters(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)
	r := sampleReview()
	status := domain.ReviewStatusApproved

	columns := append(append([]string{}, reviewColumnNames...), "total_count")
	mock.ExpectQuery("SELECT .+ FROM reviews WHERE is_deleted = FALSE AND product_id = \\$1 AND status = \\$2").
		WithArgs("prod-1", "approved", 10, 10).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(append(reviewRow(t, r), 11)...))

	got, total, err := store.FindActive(context.Background(), repository.ReviewFilter{
		ProductID: "prod-1",
		Status:    &status,
		Page:      2,
		PerPage:   10,
	})
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	require.Len(t, got, 1)
	assert.Equal(t, "rev-1", got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_FindActive_PastLastPageCounts(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)

	columns := append(append([]string{}, reviewColumnNames...), "total_count")
	mock.ExpectQuery("SELECT .+ FROM reviews WHERE is_deleted = FALSE AND reviewer_id = \\$1").
		WithArgs("user-1", 20, 100).
		WillReturnRows(pgxmock.NewRows(columns))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM reviews").
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	got, total, err := store.FindActive(context.Background(), repository.ReviewFilter{ReviewerID: "user-1", Page: 6})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
	assert.Equal(t, 3, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_FindCounted(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)
	a, b := sampleReview(), sampleReview()
	b.ID, b.ReviewerID, b.OverallRating = "rev-2", "user-2", 2

	mock.ExpectQuery("SELECT .+ FROM reviews\\s+WHERE product_id = \\$1\\s+AND status = 'approved'").
		WithArgs("prod-1").
		WillReturnRows(pgxmock.NewRows(reviewColumnNames).
			AddRow(reviewRow(t, a)...).
			AddRow(reviewRow(t, b)...))

	got, err := store.FindCounted(context.Background(), "prod-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[1].OverallRating)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_SoftDelete_ReturnsDeletedRow(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)
	by := domain.Actor{ID: "user-1", Kind: domain.ActorReviewer}

	deleted := sampleReview()
	deleted.IsDeleted = true
	deleted.DeletedAt = &now
	deleted.DeletedBy = &by
	deleted.Version = 4

	mock.ExpectQuery("UPDATE reviews\\s+SET is_deleted = TRUE.+RETURNING").
		WithArgs("rev-1", now, "user-1", "reviewer").
		WillReturnRows(pgxmock.NewRows(reviewColumnNames).AddRow(reviewRow(t, deleted)...))
	got, err := store.SoftDelete(context.Background(), "rev-1", by, now)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.True(t, got.IsPublished(), "the row carries the status it was deleted with")
	assert.Equal(t, 4, got.Version)

	mock.ExpectQuery("UPDATE reviews\\s+SET is_deleted = TRUE").
		WithArgs("rev-1", now, "user-1", "reviewer").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.SoftDelete(context.Background(), "rev-1", by, now)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_Restore(t *testing.T) {
	restored := sampleReview()
	restored.Version = 5

	tests := []struct {
		name    string
		setup   func(t *testing.T, mock pgxmock.PgxPoolIface)
		wantErr error
	}{
		{
			name: "restored",
			setup: func(t *testing.T, mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("UPDATE reviews\\s+SET is_deleted = FALSE.+RETURNING").
					WithArgs("rev-1", now).
					WillReturnRows(pgxmock.NewRows(reviewColumnNames).AddRow(reviewRow(t, restored)...))
			},
		},
		{
			name: "slot taken",
			setup: func(t *testing.T, mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("UPDATE reviews\\s+SET is_deleted = FALSE").
					WithArgs("rev-1", now).
					WillReturnError(uniqueViolation(activeReviewIndex))
			},
			wantErr: apperrors.ErrRestoreConflict,
		},
		{
			name: "not deleted",
			setup: func(t *testing.T, mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("UPDATE reviews\\s+SET is_deleted = FALSE").
					WithArgs("rev-1", now).
					WillReturnError(pgx.ErrNoRows)
				mock.ExpectQuery("SELECT is_deleted FROM reviews").
					WithArgs("rev-1").
					WillReturnRows(pgxmock.NewRows([]string{"is_deleted"}).AddRow(false))
			},
			wantErr: apperrors.ErrConflict,
		},
		{
			name: "missing",
			setup: func(t *testing.T, mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("UPDATE reviews\\s+SET is_deleted = FALSE").
					WithArgs("rev-1", now).
					WillReturnError(pgx.ErrNoRows)
				mock.ExpectQuery("SELECT is_deleted FROM reviews").
					WithArgs("rev-1").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: apperrors.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			store := NewReviewStore(mock)
			tt.setup(t, mock)

			got, err := store.Restore(context.Background(), "rev-1", now)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.False(t, got.IsDeleted)
				assert.Equal(t, 5, got.Version)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReviewStore_HardDelete_ReturnsRemovedRow(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)

	mock.ExpectQuery("DELETE FROM reviews WHERE id = \\$1 RETURNING").
		WithArgs("rev-1").
		WillReturnRows(pgxmock.NewRows(reviewColumnNames).AddRow(reviewRow(t, sampleReview())...))
	got, err := store.HardDelete(context.Background(), "rev-1")
	require.NoError(t, err)
	assert.True(t, got.IsCounted())

	mock.ExpectQuery("DELETE FROM reviews WHERE id").
		WithArgs("rev-1").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.HardDelete(context.Background(), "rev-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_AddHelpfulVote(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)
	vote := domain.HelpfulVote{VoterID: "voter-1", VotedAt: now}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE reviews SET helpful_count = helpful_count \\+ 1").
		WithArgs("rev-1").
		WillReturnRows(pgxmock.NewRows([]string{"helpful_count"}).AddRow(3))
	mock.ExpectExec("INSERT INTO review_helpful_votes").
		WithArgs("rev-1", "voter-1", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := store.AddHelpfulVote(context.Background(), "rev-1", vote)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_AddHelpfulVote_DuplicateRollsBack(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)
	vote := domain.HelpfulVote{VoterID: "voter-1", VotedAt: now}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE reviews SET helpful_count").
		WithArgs("rev-1").
		WillReturnRows(pgxmock.NewRows([]string{"helpful_count"}).AddRow(2))
	mock.ExpectExec("INSERT INTO review_helpful_votes").
		WithArgs("rev-1", "voter-1", now).
		WillReturnError(uniqueViolation("review_helpful_votes_pkey"))
	mock.ExpectRollback()

	_, err := store.AddHelpfulVote(context.Background(), "rev-1", vote)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_RemoveHelpfulVote_NoVote(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE reviews SET helpful_count = GREATEST").
		WithArgs("rev-1").
		WillReturnRows(pgxmock.NewRows([]string{"helpful_count"}).AddRow(0))
	mock.ExpectExec("DELETE FROM review_helpful_votes").
		WithArgs("rev-1", "voter-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	_, err := store.RemoveHelpfulVote(context.Background(), "rev-1", "voter-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_AdjustReplies(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)

	mock.ExpectQuery("UPDATE reviews SET total_replies = GREATEST").
		WithArgs("rev-1", -1).
		WillReturnRows(pgxmock.NewRows([]string{"total_replies"}).AddRow(0))

	n, err := store.AdjustReplies(context.Background(), "rev-1", -1)
	require.NoError(t, err)
	assert.Zero(t, n)

	mock.ExpectQuery("UPDATE reviews SET total_replies").
		WithArgs("missing", 1).
		WillReturnError(pgx.ErrNoRows)
	_, err = store.AdjustReplies(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewStore_ProductIDs(t *testing.T) {
	mock := newMock(t)
	store := NewReviewStore(mock)

	mock.ExpectQuery("SELECT DISTINCT product_id FROM reviews").
		WillReturnRows(pgxmock.NewRows([]string{"product_id"}).AddRow("a").AddRow("b"))

	ids, err := store.ProductIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── StatsStore ──────────────────────────────────────────────────────────────

var statsColumns = []string{
	"product_id", "avg_rating", "total_reviews", "rating_distribution",
	"avg_sub_ratings", "mentions", "computed_at",
}

func TestStatsStore_Get(t *testing.T) {
	mock := newMock(t)
	store := NewStatsStore(mock)

	mock.ExpectQuery("SELECT .+ FROM product_rating_stats").
		WithArgs("prod-1").
		WillReturnRows(pgxmock.NewRows(statsColumns).AddRow(
			"prod-1", 4.0, 3,
			[]byte(`{"3":1,"4":1,"5":1}`),
			[]byte(`{"ease_of_use":4,"support":null}`),
			[]byte(`[{"mention":"pricing","count":2,"avg_rating":4.5}]`),
			now,
		))

	st, err := store.Get(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 4.0, st.AvgRating)
	assert.Equal(t, 3, st.TotalReviews)
	assert.Equal(t, domain.RatingDistribution{1: 0, 2: 0, 3: 1, 4: 1, 5: 1}, st.RatingDistribution)
	require.Contains(t, st.AvgSubRatings, "support")
	assert.Nil(t, st.AvgSubRatings["support"])
	require.NotNil(t, st.AvgSubRatings["ease_of_use"])
	assert.Equal(t, 4.0, *st.AvgSubRatings["ease_of_use"])
	assert.Equal(t, []domain.MentionStat{{Mention: "pricing", Count: 2, AvgRating: 4.5}}, st.Mentions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsStore_Get_NotFound(t *testing.T) {
	mock := newMock(t)
	store := NewStatsStore(mock)

	mock.ExpectQuery("SELECT .+ FROM product_rating_stats").
		WithArgs("prod-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "prod-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsStore_SaveUpsertsAllFields(t *testing.T) {
	mock := newMock(t)
	store := NewStatsStore(mock)
	st := domain.EmptyStats("prod-1")
	st.AvgRating, st.TotalReviews, st.ComputedAt = 4.5, 2, now

	mock.ExpectExec("INSERT INTO product_rating_stats .+ ON CONFLICT \\(product_id\\) DO UPDATE").
		WithArgs("prod-1", 4.5, 2, pgxmock.AnyArg(), []byte(`{}`), []byte(`[]`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), st))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsStore_SaveKeepsNewerSnapshot(t *testing.T) {
	mock := newMock(t)
	store := NewStatsStore(mock)
	st := domain.EmptyStats("prod-1")
	st.ComputedAt = now.Add(-time.Minute)

	mock.ExpectExec("ON CONFLICT \\(product_id\\) DO UPDATE .+ WHERE product_rating_stats.computed_at <= EXCLUDED.computed_at").
		WithArgs(anyArgs(7)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.Save(context.Background(), st))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsStore_SaveError(t *testing.T) {
	mock := newMock(t)
	store := NewStatsStore(mock)

	mock.ExpectExec("INSERT INTO product_rating_stats").
		WithArgs(anyArgs(7)...).
		WillReturnError(errors.New("connection reset"))

	err := store.Save(context.Background(), domain.EmptyStats("prod-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save product stats")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── StaleTable ──────────────────────────────────────────────────────────────

func TestStaleTable(t *testing.T) {
	mock := newMock(t)
	stale := NewStaleTable(mock)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO stale_products").
		WithArgs("prod-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT product_id FROM stale_products").
		WillReturnRows(pgxmock.NewRows([]string{"product_id"}).AddRow("prod-1"))
	mock.ExpectExec("DELETE FROM stale_products").
		WithArgs("prod-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, stale.MarkStale(ctx, "prod-1"))
	ids, err := stale.StaleProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"prod-1"}, ids)
	require.NoError(t, stale.ClearStale(ctx, "prod-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
