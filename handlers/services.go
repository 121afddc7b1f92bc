package handlers

import (
	"context"
	"net/http"

	"binder-oauth/bearer"
	"binder-oauth/models"

	"github.com/umakantv/go-utils/errs"
	"github.com/umakantv/go-utils/httpserver"
	"go.uber.org/zap"
)

// ServicesHandler lists the services a token holder may use.
type ServicesHandler struct {
	resolver *bearer.Resolver
	services []models.ServiceDescriptor
}

func NewServicesHandler(resolver *bearer.Resolver, services []models.ServiceDescriptor) *ServicesHandler {
	return &ServicesHandler{resolver: resolver, services: services}
}

// HandleList handles GET /api/services.
func (h *ServicesHandler) HandleList(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	user := ""
	if auth := httpserver.GetRequestAuth(ctx); auth != nil && auth.Type == "bearer" {
		user = auth.Client
	}
	if user == "" {
		resolved, ok := h.resolver.Resolve(ctx, r)
		if !ok {
			logRequest(ctx, "info", "Service list without valid token")
			writeJSON(w, http.StatusForbidden, errs.NewAuthenticationError("Invalid or missing token"))
			return
		}
		user = resolved
	}

	services := h.services
	if services == nil {
		services = []models.ServiceDescriptor{}
	}
	logRequest(ctx, "info", "Listing services", zap.String("user", user), zap.Int("count", len(services)))
	writeJSON(w, http.StatusOK, services)
}
