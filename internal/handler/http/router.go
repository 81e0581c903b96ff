package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marketplace/reviewcore/internal/service"
	"github.com/marketplace/reviewcore/pkg/health"
	"github.com/marketplace/reviewcore/pkg/middleware"
)

const serviceName = "review"

// NewRouter creates a chi router with all review service routes registered.
func NewRouter(
	lifecycle *service.ReviewLifecycleManager,
	queries *service.ReviewQueryService,
	engagement *service.EngagementService,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	h := NewReviewHandler(lifecycle, queries, engagement, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Route("/products/{productId}", func(r chi.Router) {
			r.Post("/reviews", h.CreateReview)
			r.Get("/reviews", h.ListProductReviews)
			r.Get("/review-stats", h.GetReviewStats)
			r.Get("/mentions", h.GetPopularMentions)
		})

		r.Route("/reviews/{id}", func(r chi.Router) {
			r.Get("/", h.GetReview)
			r.Patch("/", h.UpdateReview)
			r.Delete("/", h.DeleteReview)
			r.Post("/restore", h.RestoreReview)
			r.Put("/status", h.SetStatus)
			r.Delete("/purge", h.PurgeReview)
			r.Post("/helpful", h.VoteHelpful)
			r.Delete("/helpful", h.RemoveHelpfulVote)
		})

		r.Route("/reviewers/{reviewerId}", func(r chi.Router) {
			r.Get("/reviews", h.ListReviewerReviews)
			r.Get("/products/{productId}/history", h.GetReviewHistory)
		})
	})

	return r
}

// ContentTypeJSON sets the JSON content type on every API response.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
