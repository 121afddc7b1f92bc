package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"binder-oauth/models"
	"binder-oauth/store"
	"binder-oauth/tokens"

	"github.com/gorilla/mux"
	"github.com/umakantv/go-utils/errs"
	"go.uber.org/zap"
)

// OAuthClientHandler is the admin API for OAuth clients and sessions.
type OAuthClientHandler struct {
	store      *store.Store
	adminToken string
}

// NewOAuthClientHandler creates a new OAuth client handler
func NewOAuthClientHandler(s *store.Store, adminToken string) *OAuthClientHandler {
	return &OAuthClientHandler{store: s, adminToken: adminToken}
}

// validateRedirectURI accepts absolute URLs and host relative paths.
func validateRedirectURI(uri string) error {
	if uri == "" {
		return fmt.Errorf("redirect_uri is required")
	}
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri %q: %v", uri, err)
	}
	if u.Fragment != "" {
		return fmt.Errorf("redirect_uri %q must not contain a fragment", uri)
	}
	if u.IsAbs() && u.Host == "" {
		return fmt.Errorf("redirect_uri %q must have a host", uri)
	}
	if !u.IsAbs() && (len(uri) == 0 || uri[0] != '/') {
		return fmt.Errorf("redirect_uri %q must be absolute or start with /", uri)
	}
	return nil
}

// RegisterClient handles POST /api/oauth2/clients
func (h *OAuthClientHandler) RegisterClient(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(ctx, w, r, h.adminToken) {
		return
	}

	var req models.CreateOAuthClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logRequest(ctx, "error", "Invalid request body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError("Invalid JSON"))
		return
	}
	if req.ClientID == "" {
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError("client_id is required"))
		return
	}
	if err := validateRedirectURI(req.RedirectURI); err != nil {
		logRequest(ctx, "error", "Invalid redirect URI", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError(err.Error()))
		return
	}

	secret := req.ClientSecret
	if secret == "" {
		generated, err := tokens.New()
		if err != nil {
			logRequest(ctx, "error", "Failed to generate client secret", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Failed to generate client credentials"))
			return
		}
		secret = generated
	}

	client, err := h.store.CreateClient(ctx, req.ClientID, secret, req.RedirectURI, req.Description)
	if errors.Is(err, store.ErrDuplicateIdentifier) {
		writeJSON(w, http.StatusConflict, errs.NewValidationError("client_id already registered"))
		return
	}
	if err != nil {
		logRequest(ctx, "error", "Failed to register OAuth client", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Failed to register client"))
		return
	}

	logRequest(ctx, "info", "OAuth client registered successfully", zap.String("client_id", client.Identifier), zap.Int64("id", client.ID))
	writeJSON(w, http.StatusCreated, models.CreateOAuthClientResponse{OAuthClient: *client, ClientSecret: secret})
}

// GetClients handles GET /api/oauth2/clients
func (h *OAuthClientHandler) GetClients(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(ctx, w, r, h.adminToken) {
		return
	}
	clients, err := h.store.ListClients(ctx)
	if err != nil {
		logRequest(ctx, "error", "Failed to query OAuth clients", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Database error"))
		return
	}
	if clients == nil {
		clients = []models.OAuthClient{}
	}
	logRequest(ctx, "info", "OAuth clients retrieved successfully", zap.Int("count", len(clients)))
	writeJSON(w, http.StatusOK, clients)
}

// DeleteClient handles DELETE /api/oauth2/clients/{client_id}. Codes and
// tokens of the client go with it.
func (h *OAuthClientHandler) DeleteClient(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(ctx, w, r, h.adminToken) {
		return
	}
	clientID := mux.Vars(r)["client_id"]

	err := h.store.DeleteClient(ctx, clientID)
	if errors.Is(err, store.ErrClientNotFound) {
		logRequest(ctx, "info", "OAuth client not found", zap.String("client_id", clientID))
		writeJSON(w, http.StatusNotFound, errs.NewNotFoundError("OAuth client not found"))
		return
	}
	if err != nil {
		logRequest(ctx, "error", "Failed to delete OAuth client", zap.Error(err), zap.String("client_id", clientID))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Database error"))
		return
	}
	logRequest(ctx, "info", "OAuth client deleted", zap.String("client_id", clientID))
	w.WriteHeader(http.StatusNoContent)
}

// RevokeSession handles DELETE /api/oauth2/sessions/{session_id}, logging
// the browser session out of every client.
func (h *OAuthClientHandler) RevokeSession(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(ctx, w, r, h.adminToken) {
		return
	}
	sessionID := mux.Vars(r)["session_id"]

	n, err := h.store.RevokeSession(ctx, sessionID)
	if err != nil {
		logRequest(ctx, "error", "Failed to revoke session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("Database error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}
