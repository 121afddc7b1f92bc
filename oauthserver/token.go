package oauthserver

import (
	"context"
	"errors"
	"net/http"

	"binder-oauth/models"
	"binder-oauth/store"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// TokenType is the token_type of every issued token.
const TokenType = "Bearer"

// ExchangeToken serves the token endpoint for the authorization_code and
// refresh_token grants. Any rejection is a *FatalClientError carrying the
// HTTP status and OAuth2 error code; other errors are server faults.
//
// Refresh tokens are rotated on use: the presented refresh token and its
// access token are deleted and a new pair is returned.
func (s *Server) ExchangeToken(ctx context.Context, req models.TokenRequest) (resp *models.TokenResponse, err error) {
	ctx, span := s.startSpan(ctx, "ExchangeToken")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.String("oauth.grant_type", req.GrantType),
		attribute.String("oauth.client_id", req.ClientID),
	)

	switch models.GrantType(req.GrantType) {
	case models.GrantAuthorizationCode:
		resp, err = s.exchangeCode(ctx, req)
	case models.GrantRefreshToken:
		resp, err = s.exchangeRefreshToken(ctx, req)
	case "":
		err = fatal(http.StatusBadRequest, ErrorInvalidRequest, "Request is missing grant type.")
	default:
		err = fatal(http.StatusBadRequest, ErrorUnsupportedGrantType, "")
	}

	var fe *FatalClientError
	if errors.As(err, &fe) {
		s.metrics.TokenError(fe.Code)
		s.logger.Debug("Token request rejected",
			zap.String("client_id", req.ClientID),
			zap.String("grant_type", req.GrantType),
			zap.String("error", fe.Code),
			zap.String("description", fe.Description))
	}
	return resp, err
}

func (s *Server) exchangeCode(ctx context.Context, req models.TokenRequest) (*models.TokenResponse, error) {
	if req.Code == "" {
		return nil, fatal(http.StatusBadRequest, ErrorInvalidRequest, "Missing code parameter.")
	}
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	code, err := s.store.ConsumeCode(ctx, req.Code)
	switch {
	case errors.Is(err, store.ErrCodeAlreadyConsumed):
		return nil, fatal(http.StatusBadRequest, ErrorInvalidGrant, "Code has already been used.")
	case errors.Is(err, store.ErrCodeNotFound):
		return nil, fatal(http.StatusBadRequest, ErrorInvalidGrant, "Invalid code.")
	case err != nil:
		return nil, err
	}

	if code.ClientID != client.Identifier {
		return nil, fatal(http.StatusBadRequest, ErrorInvalidGrant, "Code was issued to another client.")
	}
	if req.RedirectURI != "" && req.RedirectURI != code.RedirectURI {
		return nil, fatal(http.StatusBadRequest, ErrorInvalidGrant, "Mismatching redirect URI.")
	}

	issued, err := s.store.IssueAccessToken(ctx, store.TokenParams{
		ClientID:   client.Identifier,
		UserID:     code.UserID,
		SessionID:  code.SessionID,
		GrantType:  models.GrantAuthorizationCode,
		Scopes:     code.ScopeList(),
		TTL:        s.cfg.AccessTokenTTL,
		Refresh:    true,
		RefreshTTL: s.cfg.RefreshTokenTTL,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Access token issued",
		zap.String("client_id", client.Identifier),
		zap.String("user", code.UserID),
		zap.String("grant_type", string(models.GrantAuthorizationCode)))
	return s.tokenResponse(issued), nil
}

func (s *Server) exchangeRefreshToken(ctx context.Context, req models.TokenRequest) (*models.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, fatal(http.StatusBadRequest, ErrorInvalidRequest, "Missing refresh token parameter.")
	}
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	issued, err := s.store.RefreshAccessToken(ctx, req.RefreshToken, client.Identifier, s.cfg.AccessTokenTTL, s.cfg.RefreshTokenTTL)
	switch {
	case errors.Is(err, store.ErrRefreshTokenExpired):
		return nil, fatal(http.StatusBadRequest, ErrorInvalidGrant, "Refresh token has expired.")
	case errors.Is(err, store.ErrRefreshClientMismatch), errors.Is(err, store.ErrTokenNotFound):
		return nil, fatal(http.StatusBadRequest, ErrorInvalidGrant, "Invalid refresh token.")
	case err != nil:
		return nil, err
	}
	s.logger.Info("Access token refreshed",
		zap.String("client_id", client.Identifier),
		zap.String("user", issued.Record.UserID))
	return s.tokenResponse(issued), nil
}

func (s *Server) authenticateClient(ctx context.Context, clientID, secret string) (*models.OAuthClient, error) {
	if clientID == "" {
		return nil, fatal(http.StatusUnauthorized, ErrorInvalidClient, "Missing client_id parameter.")
	}
	client, err := s.store.GetClient(ctx, clientID)
	if errors.Is(err, store.ErrClientNotFound) {
		return nil, fatal(http.StatusUnauthorized, ErrorInvalidClient, "Client authentication failed.")
	}
	if err != nil {
		return nil, err
	}
	if secret == "" || !s.store.VerifyClientSecret(client, secret) {
		return nil, fatal(http.StatusUnauthorized, ErrorInvalidClient, "Client authentication failed.")
	}
	return client, nil
}

func (s *Server) tokenResponse(issued *store.IssuedToken) *models.TokenResponse {
	return &models.TokenResponse{
		AccessToken:  issued.AccessToken,
		TokenType:    TokenType,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: issued.RefreshToken,
		Scope:        issued.Record.Scopes,
	}
}
