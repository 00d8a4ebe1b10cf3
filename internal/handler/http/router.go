package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/ReviewGo/pkg/health"
	"github.com/utafrali/ReviewGo/pkg/httputil"
	"github.com/utafrali/ReviewGo/pkg/middleware"
)

// AdminRole may read any review and moderate approvals.
const AdminRole = "admin"

// RouterConfig holds the cross-cutting pieces of the router.
type RouterConfig struct {
	ServiceName string
	// Authenticate puts the caller's claims in the request context.
	Authenticate func(http.Handler) http.Handler
	// WriteLimit throttles mutating routes. Nil disables it.
	WriteLimit func(http.Handler) http.Handler
}

// NewRouter creates a chi router with all review service routes registered.
func NewRouter(
	reviewService ReviewService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	reviewHandler := NewReviewHandler(reviewService, logger)

	authed := func(r chi.Router) {
		r.Use(cfg.Authenticate)
		// Re-enrich the request logger now that user_id is known.
		r.Use(middleware.RequestLogger(logger))
	}
	writes := func(r chi.Router) {
		if cfg.WriteLimit != nil {
			r.Use(cfg.WriteLimit)
		}
	}

	r.Route("/api/v1/reviewables/{type}/{id}", func(r chi.Router) {
		r.Get("/summary", reviewHandler.GetSummary)
		r.Get("/reviews", reviewHandler.ListReceived)

		r.Group(func(r chi.Router) {
			authed(r)
			r.Get("/reviews/mine", reviewHandler.GetMine)

			r.Group(func(r chi.Router) {
				writes(r)
				r.Post("/reviews", reviewHandler.CreateReview)
				r.Put("/reviews/mine", reviewHandler.UpdateMine)
				r.Delete("/reviews/mine", reviewHandler.DeleteMine)
			})
		})
	})

	r.Route("/api/v1/reviewers", func(r chi.Router) {
		authed(r)
		r.Get("/me/reviews", reviewHandler.ListMine)

		r.With(middleware.RequireRole(AdminRole)).Get("/{type}/{id}/reviews", reviewHandler.ListGiven)
	})

	r.Route("/api/v1/reviews/{reviewId}", func(r chi.Router) {
		authed(r)
		r.Use(middleware.RequireRole(AdminRole))

		r.Get("/", reviewHandler.GetReview)
		r.Group(func(r chi.Router) {
			writes(r)
			r.Post("/approve", reviewHandler.Approve)
			r.Post("/unapprove", reviewHandler.Unapprove)
		})
	})

	return r
}

// HeaderIdentity trusts the X-User-ID and X-User-Role headers set by an
// authenticating gateway. It is used when JWT validation is disabled.
func HeaderIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: "X-User-ID header is required"},
			})
			return
		}
		ctx := middleware.WithClaims(r.Context(), middleware.Claims{
			UserID: userID,
			Role:   r.Header.Get("X-User-Role"),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
