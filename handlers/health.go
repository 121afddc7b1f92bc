package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping() error
}

// HealthHandler reports whether the databases are reachable.
type HealthHandler struct {
	checks map[string]Pinger
}

func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// HandleHealth handles GET /health
func (h *HealthHandler) HandleHealth(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "healthy", "service": "binder-oauth"}
	for name, check := range h.checks {
		if err := check.Ping(); err != nil {
			logRequest(ctx, "error", "Health check failed", zap.String("check", name), zap.Error(err))
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}
	writeJSON(w, status, body)
}

// MetricsHandler adapts an http.Handler such as the prometheus exposition
// handler to the httpserver handler signature.
func MetricsHandler(handler http.Handler) func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	return func(_ context.Context, w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}
}
