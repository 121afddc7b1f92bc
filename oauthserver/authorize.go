package oauthserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"binder-oauth/models"
	"binder-oauth/store"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AuthorizationRequest is a validated request to the authorization endpoint.
type AuthorizationRequest struct {
	Client       *models.OAuthClient
	RedirectURI  string
	ResponseType string
	State        string
	Scopes       []string
}

// Credentials identify who grants the authorization.
type Credentials struct {
	UserID    string
	SessionID string
}

var singleValuedParams = []string{"client_id", "response_type", "redirect_uri", "scope", "state"}

// ValidateAuthorizationRequest checks the client, redirect URI, response
// type and scopes of an authorization request. Problems with the client or
// redirect URI are *FatalClientError; later problems are *OAuth2Error to be
// sent back to the verified redirect URI.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, params url.Values) (req *AuthorizationRequest, err error) {
	ctx, span := s.startSpan(ctx, "ValidateAuthorizationRequest")
	defer func() { endSpan(span, err) }()

	for _, name := range singleValuedParams {
		if len(params[name]) > 1 {
			return nil, fatal(http.StatusBadRequest, ErrorInvalidRequest, fmt.Sprintf("Duplicate %s parameter.", name))
		}
	}

	clientID := params.Get("client_id")
	if clientID == "" {
		return nil, fatal(http.StatusBadRequest, ErrorInvalidRequest, "Missing client_id parameter.")
	}
	span.SetAttributes(attribute.String("oauth.client_id", clientID))

	client, err := s.store.GetClient(ctx, clientID)
	if errors.Is(err, store.ErrClientNotFound) {
		return nil, fatal(http.StatusBadRequest, ErrorInvalidRequest, "Invalid client_id parameter value.")
	}
	if err != nil {
		return nil, err
	}

	redirectURI, err := s.resolveRedirectURI(client, params.Get("redirect_uri"))
	if err != nil {
		return nil, err
	}

	req = &AuthorizationRequest{
		Client:       client,
		RedirectURI:  redirectURI,
		ResponseType: params.Get("response_type"),
		State:        params.Get("state"),
	}

	switch req.ResponseType {
	case "":
		return nil, req.redirectError(ErrorInvalidRequest, "Missing response_type parameter.")
	case "code":
	default:
		return nil, req.redirectError(ErrorUnsupportedResponseType, "")
	}

	req.Scopes = strings.Fields(params.Get("scope"))
	if len(req.Scopes) == 0 {
		req.Scopes = append([]string(nil), s.cfg.DefaultScopes...)
	}
	if !s.scopesAllowed(req.Scopes) {
		return nil, req.redirectError(ErrorInvalidScope, "")
	}
	return req, nil
}

// NeedsConfirmation reports whether user must confirm access for client.
// Only clients on the no-confirm list skip the prompt.
func (s *Server) NeedsConfirmation(user string, client *models.OAuthClient) bool {
	if _, ok := s.noConfirm[client.Identifier]; ok {
		s.logger.Debug("Skipping oauth confirmation", zap.String("user", user), zap.String("client", client.Description))
		return false
	}
	return true
}

// CompleteAuthorization issues a code bound to the session in creds and
// returns the URL to redirect the user agent to. An empty scopes grants the
// scopes that were requested.
func (s *Server) CompleteAuthorization(ctx context.Context, req *AuthorizationRequest, scopes []string, creds Credentials) (redirectURL string, err error) {
	ctx, span := s.startSpan(ctx, "CompleteAuthorization")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("oauth.client_id", req.Client.Identifier))

	if creds.UserID == "" {
		return "", req.redirectError(ErrorAccessDenied, "No authenticated user.")
	}
	if len(scopes) == 0 {
		scopes = req.Scopes
	}
	if !s.scopesAllowed(scopes) {
		return "", req.redirectError(ErrorInvalidScope, "")
	}

	code, err := s.store.IssueCode(ctx, store.CodeParams{
		ClientID:    req.Client.Identifier,
		UserID:      creds.UserID,
		SessionID:   creds.SessionID,
		RedirectURI: req.RedirectURI,
		Scopes:      scopes,
		TTL:         s.cfg.CodeTTL,
	})
	if err != nil {
		return "", fmt.Errorf("complete authorization: %w", err)
	}

	s.logger.Info("Authorization code issued",
		zap.String("client_id", req.Client.Identifier),
		zap.String("user", creds.UserID),
		zap.Strings("scopes", scopes))

	params := url.Values{}
	params.Set("code", code)
	if req.State != "" {
		params.Set("state", req.State)
	}
	return appendQuery(req.RedirectURI, params), nil
}

func (r *AuthorizationRequest) redirectError(code, description string) *OAuth2Error {
	return &OAuth2Error{Code: code, Description: description, RedirectURI: r.RedirectURI, State: r.State}
}

func (s *Server) resolveRedirectURI(client *models.OAuthClient, requested string) (string, error) {
	if requested == "" {
		if client.RedirectURI == "" {
			return "", fatal(http.StatusBadRequest, ErrorInvalidRequest, "Missing redirect URI.")
		}
		return client.RedirectURI, nil
	}
	if !s.acceptableRedirectURI(requested) {
		return "", fatal(http.StatusBadRequest, ErrorInvalidRequest, "Invalid redirect URI.")
	}
	if requested != client.RedirectURI {
		return "", fatal(http.StatusBadRequest, ErrorInvalidRequest, "Mismatching redirect URI.")
	}
	return requested, nil
}

func (s *Server) acceptableRedirectURI(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	if u.IsAbs() && u.Host != "" {
		return true
	}
	return s.cfg.AllowRelativeRedirectURIs && strings.HasPrefix(uri, "/") && !strings.HasPrefix(uri, "//")
}

func (s *Server) scopesAllowed(scopes []string) bool {
	if len(s.cfg.AllowedScopes) == 0 {
		return true
	}
	for _, scope := range scopes {
		allowed := false
		for _, candidate := range s.cfg.AllowedScopes {
			if scope == candidate {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}
