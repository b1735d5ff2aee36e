// Package api serves the admin REST surface: land inspection and teardown,
// replay record access, node health and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keeperhq/landkit/internal/logger"
	"github.com/keeperhq/landkit/pkg/metrics"
)

// newRouter builds the chi router and middleware stack.
//
// Routes:
//   - GET /health - liveness probe
//   - GET /health/ready - readiness probe
//   - GET /metrics - Prometheus metrics (when enabled)
//   - GET /admin/lands - live land list with stats
//   - GET /admin/lands/{landID}/stats - one land's stats
//   - GET /admin/lands/{landID}/state - one land's full state snapshot
//   - GET /admin/lands/{landID}/replay - one land's in-progress recording
//   - DELETE /admin/lands/{landID} - drain and remove a land
//   - GET /admin/system - node-level info
func (s *Server) newRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleLiveness)
	r.Get("/health/ready", s.handleReadiness)

	if metrics.IsEnabled() {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)

		r.Get("/system", s.handleSystem)
		r.Route("/lands", func(r chi.Router) {
			r.Get("/", s.handleListLands)
			r.Route("/{landID}", func(r chi.Router) {
				r.Get("/", s.handleLandStats)
				r.Get("/stats", s.handleLandStats)
				r.Get("/state", s.handleLandState)
				r.Get("/replay", s.handleLandReplay)
				r.Delete("/", s.handleRemoveLand)
			})
		})
	})

	return r
}

// requestLogger logs requests through the internal logger, with health
// probes demoted to debug to keep orchestrator noise out of the logs.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			logger.KeyRequest, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			logger.KeyBytes, ww.BytesWritten(),
			logger.KeyDuration, logger.Duration(start),
		}
		if r.URL.Path == "/health" || r.URL.Path == "/health/ready" {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
