package middleware

import (
	"log/slog"
	"net/http"

	"github.com/marketplace/reviewcore/pkg/logger"
)

// ActorIDHeader identifies the reviewer or moderator making the request. It is
// set by the upstream gateway after authentication.
const ActorIDHeader = "X-User-ID"

// RequestLogger stores a request-scoped logger carrying correlation_id,
// actor_id, trace_id and span_id in the context. Mount it after
// RequestLogging and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if actorID := r.Header.Get(ActorIDHeader); actorID != "" {
				ctx = logger.WithActorID(ctx, actorID)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
