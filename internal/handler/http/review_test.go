package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/repository/memory"
	"github.com/marketplace/reviewcore/internal/service"
	"github.com/marketplace/reviewcore/pkg/health"
	"github.com/marketplace/reviewcore/pkg/httputil"
	"github.com/marketplace/reviewcore/pkg/pagination"
)

type envelope struct {
	Data  json.RawMessage         `json:"data"`
	Error *httputil.ErrorResponse `json:"error"`
}

type testServer struct {
	router http.Handler
	stats  *memory.StatsStore
}

func newTestServer(t *testing.T, initial domain.ReviewStatus) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reviews := memory.NewReviewStore()
	stats := memory.NewStatsStore()
	rec := service.NewAggregateRecomputer(reviews, stats, memory.NewKeyedLocker(), memory.NewStaleSet(), logger)
	lifecycle := service.NewReviewLifecycleManager(reviews, rec, nil, initial, logger)
	queries := service.NewReviewQueryService(reviews, stats, logger)
	engagement := service.NewEngagementService(reviews, logger)

	return &testServer{
		router: NewRouter(lifecycle, queries, engagement, health.NewHandler(), logger),
		stats:  stats,
	}
}

func (s *testServer) do(t *testing.T, method, path, user string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (s *testServer) createReview(t *testing.T, productID, user string, rating int) domain.Review {
	t.Helper()
	rec, env := s.do(t, http.MethodPost, "/api/v1/products/"+productID+"/reviews", user, map[string]any{
		"title":          "Solid dashboard",
		"content":        "The dashboard and reporting work well for our team.",
		"overall_rating": rating,
		"sub_ratings":    map[string]int{"ease_of_use": 6, "support": 0},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var r domain.Review
	require.NoError(t, json.Unmarshal(env.Data, &r))
	return r
}

func TestCreateReview_Success(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusApproved)
	r := s.createReview(t, "prod-1", "user-1", 5)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "prod-1", r.ProductID)
	assert.Equal(t, "user-1", r.ReviewerID)
	assert.Equal(t, domain.ReviewStatusApproved, r.Status)
	assert.NotNil(t, r.PublishedAt)
	assert.Contains(t, r.Keywords, "dashboard")
}

func TestCreateReview_Validation(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusPending)

	tests := []struct {
		name     string
		user     string
		body     any
		wantCode int
		errCode  string
	}{
		{"missing user", "", map[string]any{"overall_rating": 4}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"rating too high", "user-1", map[string]any{"overall_rating": 6}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing rating", "user-1", map[string]any{"title": "x"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"sub rating out of range", "user-1", map[string]any{"overall_rating": 4, "sub_ratings": map[string]int{"support": 8}},
			http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", "user-1", map[string]any{"overall_rating": 4, "stars": 5}, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad verification type", "user-1", map[string]any{"overall_rating": 4, "verification": map[string]any{"type": "fax"}},
			http.StatusBadRequest, "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := s.do(t, http.MethodPost, "/api/v1/products/prod-1/reviews", tt.user, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.errCode, env.Error.Code)
		})
	}
}

func TestCreateReview_DuplicateIsConflict(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusPending)
	s.createReview(t, "prod-1", "user-1", 4)

	rec, env := s.do(t, http.MethodPost, "/api/v1/products/prod-1/reviews", "user-1", map[string]any{"overall_rating": 3})
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "DUPLICATE_REVIEW", env.Error.Code)
}

func TestStatsFollowLifecycle(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusApproved)
	s.createReview(t, "prod-1", "user-1", 5)
	b := s.createReview(t, "prod-1", "user-2", 4)

	stats := func() domain.ProductStats {
		rec, env := s.do(t, http.MethodGet, "/api/v1/products/prod-1/review-stats", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var st domain.ProductStats
		require.NoError(t, json.Unmarshal(env.Data, &st))
		return st
	}

	st := stats()
	assert.Equal(t, 4.5, st.AvgRating)
	assert.Equal(t, 2, st.TotalReviews)
	require.NotNil(t, st.AvgSubRatings["ease_of_use"])
	assert.Equal(t, 6.0, *st.AvgSubRatings["ease_of_use"])
	assert.Nil(t, st.AvgSubRatings["support"])

	rec, _ := s.do(t, http.MethodDelete, "/api/v1/reviews/"+b.ID, "user-2", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	st = stats()
	assert.Equal(t, 5.0, st.AvgRating)
	assert.Equal(t, 1, st.TotalReviews)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/reviews/"+b.ID+"/restore", "user-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, stats().TotalReviews)

	rec, _ = s.do(t, http.MethodPut, "/api/v1/reviews/"+b.ID+"/status", "mod-1", map[string]string{"status": "rejected"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, stats().TotalReviews)
}

func TestGetReviewStats_UnknownProductIsZero(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusPending)

	rec, env := s.do(t, http.MethodGet, "/api/v1/products/nothing/review-stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st domain.ProductStats
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Zero(t, st.TotalReviews)
	assert.Zero(t, st.AvgRating)
	assert.Len(t, st.RatingDistribution, 5)
}

func TestRestore_ConflictAfterNewReview(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusPending)
	old := s.createReview(t, "prod-1", "user-1", 2)

	rec, _ := s.do(t, http.MethodDelete, "/api/v1/reviews/"+old.ID, "user-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	s.createReview(t, "prod-1", "user-1", 5)

	rec, env := s.do(t, http.MethodPost, "/api/v1/reviews/"+old.ID+"/restore", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RESTORE_CONFLICT", env.Error.Code)

	rec, env = s.do(t, http.MethodGet, "/api/v1/reviewers/user-1/products/prod-1/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.Review
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 2)
	assert.True(t, history[0].IsDeleted)
}

func TestDeleteReview_ModeratorRole(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusPending)
	r := s.createReview(t, "prod-1", "user-1", 3)

	rec, env := s.do(t, http.MethodDelete, "/api/v1/reviews/"+r.ID, "mod-1", nil, ActorRoleHeader, "admin")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)

	rec, _ = s.do(t, http.MethodDelete, "/api/v1/reviews/"+r.ID, "mod-1", nil, ActorRoleHeader, "moderator")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, env = s.do(t, http.MethodGet, "/api/v1/reviewers/user-1/products/prod-1/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.Review
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 1)
	require.NotNil(t, history[0].DeletedBy)
	assert.Equal(t, domain.Actor{ID: "mod-1", Kind: domain.ActorModerator}, *history[0].DeletedBy)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/reviews/"+r.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateReview(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusApproved)
	r := s.createReview(t, "prod-1", "user-1", 5)

	rec, env := s.do(t, http.MethodPatch, "/api/v1/reviews/"+r.ID, "user-1", map[string]any{"overall_rating": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated domain.Review
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, 3, updated.OverallRating)
	assert.Equal(t, r.Keywords, updated.Keywords)

	st, err := s.stats.Get(t.Context(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, st.AvgRating)

	rec, _ = s.do(t, http.MethodPatch, "/api/v1/reviews/missing", "user-1", map[string]any{"overall_rating": 3})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetStatus_Validation(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusPending)
	r := s.createReview(t, "prod-1", "user-1", 5)

	rec, env := s.do(t, http.MethodPut, "/api/v1/reviews/"+r.ID+"/status", "mod-1", map[string]string{"status": "deleted"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Fields, "status")
}

func TestPurgeReview(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusApproved)
	r := s.createReview(t, "prod-1", "user-1", 5)

	rec, _ := s.do(t, http.MethodDelete, "/api/v1/reviews/"+r.ID+"/purge", "user-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = s.do(t, http.MethodDelete, "/api/v1/reviews/"+r.ID+"/purge", "mod-1", nil, ActorRoleHeader, "moderator")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, env := s.do(t, http.MethodGet, "/api/v1/reviewers/user-1/products/prod-1/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.Review
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Empty(t, history)

	st, err := s.stats.Get(t.Context(), "prod-1")
	require.NoError(t, err)
	assert.Zero(t, st.TotalReviews)
}

func TestHelpfulVotes(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusPending)
	r := s.createReview(t, "prod-1", "user-1", 5)
	path := "/api/v1/reviews/" + r.ID + "/helpful"

	rec, env := s.do(t, http.MethodPost, path, "user-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp helpfulResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, 1, resp.HelpfulCount)

	rec, _ = s.do(t, http.MethodPost, path, "user-2", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = s.do(t, http.MethodPost, path, "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.do(t, http.MethodDelete, path, "user-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Zero(t, resp.HelpfulCount)

	rec, _ = s.do(t, http.MethodDelete, path, "user-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProductReviews(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusPending)
	for _, u := range []string{"u1", "u2", "u3"} {
		s.createReview(t, "prod-1", u, 4)
	}
	s.createReview(t, "prod-2", "u1", 4)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/prod-1/reviews?per_page=2&status=pending", nil)
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var page pagination.Result[domain.Review]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.TotalCount)
	assert.Len(t, page.Data, 2)
	assert.True(t, page.HasNext)

	rec, env := s.do(t, http.MethodGet, "/api/v1/products/prod-1/reviews?status=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reviewers/u1/reviews", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.TotalCount)
}

func TestGetPopularMentions(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusApproved)
	s.createReview(t, "prod-1", "u1", 5)
	s.createReview(t, "prod-1", "u2", 3)

	rec, env := s.do(t, http.MethodGet, "/api/v1/products/prod-1/mentions?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mentions []domain.MentionStat
	require.NoError(t, json.Unmarshal(env.Data, &mentions))
	require.NotEmpty(t, mentions)
	assert.Equal(t, 2, mentions[0].Count)
	assert.Equal(t, 4.0, mentions[0].AvgRating)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/products/prod-1/mentions?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	s := newTestServer(t, domain.ReviewStatusPending)

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
