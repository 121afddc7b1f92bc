package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"binder-oauth/models"
	"binder-oauth/oauthserver"

	"go.uber.org/zap"
)

// OAuthTokenHandler serves the token endpoint.
type OAuthTokenHandler struct {
	server *oauthserver.Server
}

func NewOAuthTokenHandler(server *oauthserver.Server) *OAuthTokenHandler {
	return &OAuthTokenHandler{server: server}
}

// HandleToken handles POST /api/oauth2/token. The body may be form encoded
// or JSON; client credentials may also come as HTTP Basic auth.
func (h *OAuthTokenHandler) HandleToken(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	logRequest(ctx, "info", "Token request")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	req, err := parseTokenRequest(r)
	if err != nil {
		logRequest(ctx, "error", "Invalid token request", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, models.TokenErrorResponse{
			Error:            oauthserver.ErrorInvalidRequest,
			ErrorDescription: "Malformed request body.",
		})
		return
	}
	usedBasic := false
	if id, secret, ok := r.BasicAuth(); ok {
		if req.ClientID == "" {
			req.ClientID = id
		}
		if req.ClientSecret == "" {
			req.ClientSecret = secret
		}
		usedBasic = true
	}

	resp, err := h.server.ExchangeToken(ctx, req)
	if err != nil {
		var fatal *oauthserver.FatalClientError
		if errors.As(err, &fatal) {
			logRequest(ctx, "info", "Token request rejected",
				zap.String("client_id", req.ClientID),
				zap.String("grant_type", req.GrantType),
				zap.String("error", fatal.Code))
			if fatal.Status == http.StatusUnauthorized && usedBasic {
				w.Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
			}
			writeJSON(w, fatal.Status, models.TokenErrorResponse{Error: fatal.Code, ErrorDescription: fatal.Description})
			return
		}
		logRequest(ctx, "error", "Token exchange failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.TokenErrorResponse{Error: oauthserver.ErrorServerError})
		return
	}

	logRequest(ctx, "info", "Token issued", zap.String("client_id", req.ClientID), zap.String("grant_type", req.GrantType))
	writeJSON(w, http.StatusOK, resp)
}

func parseTokenRequest(r *http.Request) (models.TokenRequest, error) {
	var req models.TokenRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.GrantType = r.PostForm.Get("grant_type")
	req.Code = r.PostForm.Get("code")
	req.RedirectURI = r.PostForm.Get("redirect_uri")
	req.ClientID = r.PostForm.Get("client_id")
	req.ClientSecret = r.PostForm.Get("client_secret")
	req.RefreshToken = r.PostForm.Get("refresh_token")
	req.Scope = r.PostForm.Get("scope")
	return req, nil
}
