package server

import (
	"log/slog"
	"net/http"
	"time"

	"anchord/internal/health"
	"anchord/internal/metrics"
)

// New builds the admin API handler.
func New(handler *Handler, checker *health.Checker, registry *metrics.Registry, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/stats", handler.Stats)
	mux.HandleFunc("GET /api/v1/history", handler.History)
	mux.HandleFunc("GET /api/v1/pending", handler.Pending)
	mux.HandleFunc("POST /api/v1/flush", handler.Flush)
	mux.HandleFunc("PUT /api/v1/config", handler.UpdateConfig)
	mux.HandleFunc("POST /api/v1/events", handler.Ingest)
	mux.HandleFunc("GET /api/v1/batches/{id}/proof/{eventID}", handler.Proof)
	mux.HandleFunc("POST /api/v1/batches/{id}/retry", handler.Retry)
	mux.HandleFunc("POST /api/v1/verify", handler.Verify)
	mux.HandleFunc("GET /api/v1/report", handler.Report)

	mux.Handle("GET /healthz", checker.LivenessHandler())
	mux.Handle("GET /readyz", checker.ReadinessHandler())
	mux.Handle("GET /health", checker.HealthHandler())
	mux.Handle("GET /metrics", registry.HTTPHandler())

	return logging(mux, log)
}

func logging(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
