package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"binder-oauth/repoauth"

	"github.com/umakantv/go-utils/errs"
	"go.uber.org/zap"
)

// RepoAuthHandler runs the delegated authorization against repository
// providers for the logged in user.
type RepoAuthHandler struct {
	broker    *repoauth.Broker
	auth      *Authenticator
	publicURL string
}

func NewRepoAuthHandler(broker *repoauth.Broker, auth *Authenticator, publicURL string) *RepoAuthHandler {
	return &RepoAuthHandler{broker: broker, auth: auth, publicURL: publicURL}
}

// HandleAuthorize handles GET /repoauth/authorize. A user already holding
// a live token for the provider resource goes straight to the launch URL.
func (h *RepoAuthHandler) HandleAuthorize(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	user, ok := h.auth.RequireUser(ctx, w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	providerName := q.Get("provider_name")
	providerID := q.Get("provider_id")
	spec := strings.TrimPrefix(q.Get("spec"), "/")
	if providerName == "" || providerID == "" || spec == "" {
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError("provider_name, provider_id and spec are required"))
		return
	}

	_, err := h.broker.CachedToken(ctx, user, providerName, providerID)
	if err == nil {
		logRequest(ctx, "info", "Reusing repository token", zap.String("user", user), zap.String("provider", providerName))
		http.Redirect(w, r, h.launchURL(providerName, spec), http.StatusFound)
		return
	}
	if !errors.Is(err, repoauth.ErrNoCachedToken) {
		logRequest(ctx, "error", "Repository token lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Token lookup failed"))
		return
	}

	authURL, err := h.broker.Begin(ctx, user, providerName, providerID, spec)
	if errors.Is(err, repoauth.ErrUnknownProvider) {
		writeJSON(w, http.StatusNotFound, errs.NewNotFoundError("Unknown repository provider"))
		return
	}
	if err != nil {
		logRequest(ctx, "error", "Failed to start repository authorization", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Failed to start authorization"))
		return
	}
	logRequest(ctx, "info", "Redirecting to repository provider", zap.String("user", user), zap.String("provider", providerName))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback handles GET /repoauth/callback from the provider.
func (h *RepoAuthHandler) HandleCallback(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	user, ok := h.auth.RequireUser(ctx, w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	state := q.Get("state")
	if state == "" {
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError("Missing state"))
		return
	}

	session, err := h.broker.Complete(ctx, user, state, q)
	switch {
	case err == nil:
	case errors.Is(err, repoauth.ErrUnknownState),
		errors.Is(err, repoauth.ErrMissingCode),
		errors.Is(err, repoauth.ErrUnknownProvider):
		logRequest(ctx, "info", "Rejected repository callback", zap.String("user", user), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError(err.Error()))
		return
	case errors.Is(err, repoauth.ErrAuthorizationDenied):
		logRequest(ctx, "info", "Repository authorization denied", zap.String("user", user), zap.Error(err))
		writeJSON(w, http.StatusForbidden, errs.NewAuthenticationError(err.Error()))
		return
	case errors.Is(err, repoauth.ErrTokenExchange):
		logRequest(ctx, "error", "Repository token exchange failed", zap.String("user", user), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errs.NewInternalServerError("Token exchange with the repository failed"))
		return
	default:
		logRequest(ctx, "error", "Repository callback failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Repository authorization failed"))
		return
	}

	logRequest(ctx, "info", "Repository authorization complete", zap.String("user", user), zap.String("provider", session.ProviderName))
	http.Redirect(w, r, h.launchURL(session.ProviderName, session.Spec), http.StatusFound)
}

func (h *RepoAuthHandler) launchURL(providerName, spec string) string {
	return repoauth.JoinURLPath(h.publicURL, "/v2", providerName, spec)
}
