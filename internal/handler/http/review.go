package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/service"
	apperrors "github.com/marketplace/reviewcore/pkg/errors"
	"github.com/marketplace/reviewcore/pkg/httputil"
	"github.com/marketplace/reviewcore/pkg/middleware"
	"github.com/marketplace/reviewcore/pkg/pagination"
	"github.com/marketplace/reviewcore/pkg/validator"
)

// ActorRoleHeader tells whether the caller acts as the reviewer or as a
// moderator. It defaults to reviewer.
const ActorRoleHeader = "X-Actor-Role"

// ReviewHandler handles HTTP requests for review endpoints.
type ReviewHandler struct {
	lifecycle  *service.ReviewLifecycleManager
	queries    *service.ReviewQueryService
	engagement *service.EngagementService
	logger     *slog.Logger
}

// NewReviewHandler creates a new review HTTP handler.
func NewReviewHandler(
	lifecycle *service.ReviewLifecycleManager,
	queries *service.ReviewQueryService,
	engagement *service.EngagementService,
	logger *slog.Logger,
) *ReviewHandler {
	return &ReviewHandler{
		lifecycle:  lifecycle,
		queries:    queries,
		engagement: engagement,
		logger:     logger,
	}
}

// --- Request DTOs ---

// AttachmentRequest describes a pre-uploaded file attached to a review.
type AttachmentRequest struct {
	FileName string `json:"file_name" validate:"required,max=255"`
	FileURL  string `json:"file_url" validate:"required,url"`
	FileType string `json:"file_type" validate:"required,max=100"`
	FileSize int64  `json:"file_size" validate:"gte=0"`
}

// CreateReviewRequest is the JSON request body for creating a review.
type CreateReviewRequest struct {
	Title         string               `json:"title" validate:"max=200"`
	Content       string               `json:"content" validate:"max=5000"`
	OverallRating int                  `json:"overall_rating" validate:"required,min=1,max=5"`
	SubRatings    map[string]int       `json:"sub_ratings" validate:"omitempty,dive,keys,required,endkeys,min=0,max=7"`
	Verification  *domain.Verification `json:"verification"`
	Attachments   []AttachmentRequest  `json:"attachments" validate:"omitempty,max=10,dive"`
}

// UpdateReviewRequest is the JSON request body for updating a review. Absent
// fields are left unchanged.
type UpdateReviewRequest struct {
	Title         *string              `json:"title" validate:"omitempty,max=200"`
	Content       *string              `json:"content" validate:"omitempty,max=5000"`
	OverallRating *int                 `json:"overall_rating" validate:"omitempty,min=1,max=5"`
	SubRatings    map[string]int       `json:"sub_ratings" validate:"omitempty,dive,keys,required,endkeys,min=0,max=7"`
	Verification  *domain.Verification `json:"verification"`
	Attachments   []AttachmentRequest  `json:"attachments" validate:"omitempty,max=10,dive"`
}

// SetStatusRequest is the JSON request body of a moderation decision.
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending approved rejected flagged"`
}

type helpfulResponse struct {
	ReviewID     string `json:"review_id"`
	HelpfulCount int    `json:"helpful_count"`
}

func toAttachments(in []AttachmentRequest) []domain.Attachment {
	if in == nil {
		return nil
	}
	out := make([]domain.Attachment, len(in))
	for i, a := range in {
		out[i] = domain.Attachment{
			FileName: a.FileName,
			FileURL:  a.FileURL,
			FileType: a.FileType,
			FileSize: a.FileSize,
		}
	}
	return out
}

// --- Handlers ---

// CreateReview handles POST /api/v1/products/{productId}/reviews
func (h *ReviewHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req CreateReviewRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	input := service.CreateReviewInput{
		ProductID:     chi.URLParam(r, "productId"),
		ReviewerID:    reviewerID,
		Title:         req.Title,
		Content:       req.Content,
		OverallRating: req.OverallRating,
		SubRatings:    domain.SubRatings(req.SubRatings),
		Attachments:   toAttachments(req.Attachments),
	}
	if req.Verification != nil {
		input.Verification = *req.Verification
	}

	review, err := h.lifecycle.CreateReview(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, review)
}

// ListProductReviews handles GET /api/v1/products/{productId}/reviews
func (h *ReviewHandler) ListProductReviews(w http.ResponseWriter, r *http.Request) {
	var status *domain.ReviewStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s, err := domain.ParseReviewStatus(v)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		status = &s
	}

	result, err := h.queries.ListProductReviews(r.Context(), chi.URLParam(r, "productId"), status, pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// GetReviewStats handles GET /api/v1/products/{productId}/review-stats
func (h *ReviewHandler) GetReviewStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queries.GetReviewStats(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, stats)
}

// GetPopularMentions handles GET /api/v1/products/{productId}/mentions
func (h *ReviewHandler) GetPopularMentions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.WriteError(w, r, apperrors.Validation("limit must be a non-negative integer"), h.logger)
			return
		}
		limit = n
	}

	mentions, err := h.queries.GetPopularMentions(r.Context(), chi.URLParam(r, "productId"), limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, mentions)
}

// GetReview handles GET /api/v1/reviews/{id}
func (h *ReviewHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	review, err := h.queries.GetReview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, review)
}

// UpdateReview handles PATCH /api/v1/reviews/{id}
func (h *ReviewHandler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	var req UpdateReviewRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	patch := domain.ReviewPatch{
		Title:         req.Title,
		Content:       req.Content,
		OverallRating: req.OverallRating,
		SubRatings:    domain.SubRatings(req.SubRatings),
		Verification:  req.Verification,
		Attachments:   toAttachments(req.Attachments),
	}

	review, err := h.lifecycle.UpdateReview(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, review)
}

// DeleteReview handles DELETE /api/v1/reviews/{id}
func (h *ReviewHandler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	if err := h.lifecycle.SoftDelete(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RestoreReview handles POST /api/v1/reviews/{id}/restore
func (h *ReviewHandler) RestoreReview(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	review, err := h.lifecycle.Restore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, review)
}

// SetStatus handles PUT /api/v1/reviews/{id}/status
func (h *ReviewHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	review, err := h.lifecycle.SetStatus(r.Context(), chi.URLParam(r, "id"), domain.ReviewStatus(req.Status))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, review)
}

// PurgeReview handles DELETE /api/v1/reviews/{id}/purge
func (h *ReviewHandler) PurgeReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	if actor.Kind != domain.ActorModerator {
		httputil.WriteJSON(w, http.StatusForbidden, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "FORBIDDEN", Message: "purge requires the moderator role"},
		})
		return
	}

	if err := h.lifecycle.PurgeReview(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// VoteHelpful handles POST /api/v1/reviews/{id}/helpful
func (h *ReviewHandler) VoteHelpful(w http.ResponseWriter, r *http.Request) {
	voterID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	count, err := h.engagement.VoteHelpful(r.Context(), id, voterID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, helpfulResponse{ReviewID: id, HelpfulCount: count})
}

// RemoveHelpfulVote handles DELETE /api/v1/reviews/{id}/helpful
func (h *ReviewHandler) RemoveHelpfulVote(w http.ResponseWriter, r *http.Request) {
	voterID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	count, err := h.engagement.RemoveHelpfulVote(r.Context(), id, voterID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, helpfulResponse{ReviewID: id, HelpfulCount: count})
}

// ListReviewerReviews handles GET /api/v1/reviewers/{reviewerId}/reviews
func (h *ReviewHandler) ListReviewerReviews(w http.ResponseWriter, r *http.Request) {
	result, err := h.queries.ListReviewerReviews(r.Context(), chi.URLParam(r, "reviewerId"), pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// GetReviewHistory handles GET /api/v1/reviewers/{reviewerId}/products/{productId}/history
func (h *ReviewHandler) GetReviewHistory(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.queries.GetReviewHistory(r.Context(), chi.URLParam(r, "reviewerId"), chi.URLParam(r, "productId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, reviews)
}

// --- Helpers ---

// requireUser returns the caller id from the X-User-ID header, writing a 401
// when it is missing.
func (h *ReviewHandler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(middleware.ActorIDHeader)
	if id == "" {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: middleware.ActorIDHeader + " header is required"},
		})
		return "", false
	}
	return id, true
}

func (h *ReviewHandler) requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	id, ok := h.requireUser(w, r)
	if !ok {
		return domain.Actor{}, false
	}

	kind := domain.ActorReviewer
	switch role := r.Header.Get(ActorRoleHeader); role {
	case "", string(domain.ActorReviewer):
	case string(domain.ActorModerator):
		kind = domain.ActorModerator
	default:
		httputil.WriteError(w, r, apperrors.Validation(ActorRoleHeader+" must be reviewer or moderator"), h.logger)
		return domain.Actor{}, false
	}
	return domain.Actor{ID: id, Kind: kind}, true
}
