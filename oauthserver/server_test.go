package oauthserver

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"binder-oauth/database"
	"binder-oauth/metrics"
	"binder-oauth/models"
	"binder-oauth/store"
	"binder-oauth/tokens"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testClientID    = "AAAA"
	testSecret      = "BBBB"
	testRedirectURI = "http://192.168.168.167:5000/project/binderhub/callback"
)

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *store.Store) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := store.New(db, store.Schema, zap.NewNop(), store.WithSecretHasher(tokens.TokenHasher))
	require.NoError(t, err)
	_, err = s.CreateClient(context.Background(), testClientID, testSecret, testRedirectURI, "Some Client")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.NoConfirmList = []string{testClientID}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewServer(s, cfg, zap.NewNop(), metrics.New()), s
}

func authorize(t *testing.T, srv *Server, params url.Values) string {
	t.Helper()
	ctx := context.Background()
	req, err := srv.ValidateAuthorizationRequest(ctx, params)
	require.NoError(t, err)
	location, err := srv.CompleteAuthorization(ctx, req, nil, Credentials{UserID: "alice", SessionID: "session-1"})
	require.NoError(t, err)

	u, err := url.Parse(location)
	require.NoError(t, err)
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func asFatal(t *testing.T, err error) *FatalClientError {
	t.Helper()
	var fe *FatalClientError
	require.True(t, errors.As(err, &fe), "expected FatalClientError, got %v", err)
	return fe
}

func asRedirect(t *testing.T, err error) *OAuth2Error {
	t.Helper()
	var oe *OAuth2Error
	require.True(t, errors.As(err, &oe), "expected OAuth2Error, got %v", err)
	return oe
}

func TestValidateAuthorizationRequestFatalErrors(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name        string
		params      url.Values
		description string
	}{
		{
			name:        "missing client",
			params:      url.Values{"response_type": {"code"}},
			description: "Missing client_id parameter.",
		},
		{
			name:        "unknown client",
			params:      url.Values{"client_id": {"nope"}, "response_type": {"code"}},
			description: "Invalid client_id parameter value.",
		},
		{
			name:        "duplicate client",
			params:      url.Values{"client_id": {testClientID, testClientID}, "response_type": {"code"}},
			description: "Duplicate client_id parameter.",
		},
		{
			name:        "mismatching redirect",
			params:      url.Values{"client_id": {testClientID}, "response_type": {"code"}, "redirect_uri": {"http://evil.example.com/cb"}},
			description: "Mismatching redirect URI.",
		},
		{
			name:        "relative redirect",
			params:      url.Values{"client_id": {testClientID}, "response_type": {"code"}, "redirect_uri": {"/user/foo/oauth_callback"}},
			description: "Invalid redirect URI.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.ValidateAuthorizationRequest(context.Background(), tt.params)
			fe := asFatal(t, err)
			assert.Equal(t, http.StatusBadRequest, fe.Status)
			assert.Equal(t, ErrorInvalidRequest, fe.Code)
			assert.Equal(t, tt.description, fe.Description)
		})
	}
}

func TestValidateAuthorizationRequestRedirectErrors(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name   string
		params url.Values
		code   string
	}{
		{"missing response type", url.Values{"client_id": {testClientID}, "state": {"xyz"}}, ErrorInvalidRequest},
		{"token response type", url.Values{"client_id": {testClientID}, "response_type": {"token"}, "state": {"xyz"}}, ErrorUnsupportedResponseType},
		{"unknown scope", url.Values{"client_id": {testClientID}, "response_type": {"code"}, "scope": {"admin"}, "state": {"xyz"}}, ErrorInvalidScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.ValidateAuthorizationRequest(context.Background(), tt.params)
			oe := asRedirect(t, err)
			assert.Equal(t, tt.code, oe.Code)
			assert.Equal(t, testRedirectURI, oe.RedirectURI)

			u, err := url.Parse(oe.InURI())
			require.NoError(t, err)
			assert.Equal(t, tt.code, u.Query().Get("error"))
			assert.Equal(t, "xyz", u.Query().Get("state"))
		})
	}
}

func TestValidateAuthorizationRequestDefaults(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req, err := srv.ValidateAuthorizationRequest(context.Background(), url.Values{
		"client_id":     {testClientID},
		"response_type": {"code"},
	})
	require.NoError(t, err)
	assert.Equal(t, testRedirectURI, req.RedirectURI)
	assert.Equal(t, []string{"identify"}, req.Scopes)
	assert.Equal(t, "Some Client", req.Client.Description)
}

func TestRelativeRedirectURIs(t *testing.T) {
	srv, s := newTestServer(t, func(cfg *Config) { cfg.AllowRelativeRedirectURIs = true })
	_, err := s.CreateClient(context.Background(), "service", "secret", "/user/foo/oauth_callback", "")
	require.NoError(t, err)

	req, err := srv.ValidateAuthorizationRequest(context.Background(), url.Values{
		"client_id":     {"service"},
		"response_type": {"code"},
		"redirect_uri":  {"/user/foo/oauth_callback"},
	})
	require.NoError(t, err)

	location, err := srv.CompleteAuthorization(context.Background(), req, nil, Credentials{UserID: "alice"})
	require.NoError(t, err)
	assert.Regexp(t, `^/user/foo/oauth_callback\?code=[0-9a-f]+$`, location)
}

func TestNeedsConfirmation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	assert.False(t, srv.NeedsConfirmation("alice", &models.OAuthClient{Identifier: testClientID}))
	assert.True(t, srv.NeedsConfirmation("alice", &models.OAuthClient{Identifier: "other"}))
}

func TestCompleteAuthorization(t *testing.T) {
	ctx := context.Background()
	srv, s := newTestServer(t, nil)

	req, err := srv.ValidateAuthorizationRequest(ctx, url.Values{
		"client_id":     {testClientID},
		"response_type": {"code"},
		"state":         {"abc"},
	})
	require.NoError(t, err)

	location, err := srv.CompleteAuthorization(ctx, req, []string{"identify"}, Credentials{UserID: "alice", SessionID: "session-1"})
	require.NoError(t, err)
	assert.Regexp(t, `^http://192\.168\.168\.167:5000/project/binderhub/callback\?code=[^=&]+&state=abc$`, location)

	u, err := url.Parse(location)
	require.NoError(t, err)
	code, err := s.FindCode(ctx, u.Query().Get("code"))
	require.NoError(t, err)
	assert.Equal(t, "alice", code.UserID)
	assert.Equal(t, "session-1", code.SessionID)
	assert.Equal(t, testRedirectURI, code.RedirectURI)

	_, err = srv.CompleteAuthorization(ctx, req, []string{"admin"}, Credentials{UserID: "alice"})
	assert.Equal(t, ErrorInvalidScope, asRedirect(t, err).Code)

	_, err = srv.CompleteAuthorization(ctx, req, nil, Credentials{})
	assert.Equal(t, ErrorAccessDenied, asRedirect(t, err).Code)
}

func TestExchangeAuthorizationCode(t *testing.T) {
	ctx := context.Background()
	srv, s := newTestServer(t, nil)
	code := authorize(t, srv, url.Values{"client_id": {testClientID}, "response_type": {"code"}})

	resp, err := srv.ExchangeToken(ctx, models.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Code:         code,
		RedirectURI:  testRedirectURI,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "identify", resp.Scope)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	record, err := s.FindAccessToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", record.UserID)
	assert.Equal(t, "session-1", record.SessionID)

	_, err = srv.ExchangeToken(ctx, models.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Code:         code,
	})
	fe := asFatal(t, err)
	assert.Equal(t, ErrorInvalidGrant, fe.Code)
	assert.Equal(t, "Code has already been used.", fe.Description)
}

func TestExchangeTokenRejections(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name   string
		req    func() models.TokenRequest
		status int
		code   string
	}{
		{
			name:   "missing grant type",
			req:    func() models.TokenRequest { return models.TokenRequest{} },
			status: http.StatusBadRequest,
			code:   ErrorInvalidRequest,
		},
		{
			name:   "unsupported grant type",
			req:    func() models.TokenRequest { return models.TokenRequest{GrantType: "password"} },
			status: http.StatusBadRequest,
			code:   ErrorUnsupportedGrantType,
		},
		{
			name: "missing code",
			req: func() models.TokenRequest {
				return models.TokenRequest{GrantType: "authorization_code", ClientID: testClientID, ClientSecret: testSecret}
			},
			status: http.StatusBadRequest,
			code:   ErrorInvalidRequest,
		},
		{
			name: "wrong secret",
			req: func() models.TokenRequest {
				code := authorize(t, srv, url.Values{"client_id": {testClientID}, "response_type": {"code"}})
				return models.TokenRequest{GrantType: "authorization_code", ClientID: testClientID, ClientSecret: "nope", Code: code}
			},
			status: http.StatusUnauthorized,
			code:   ErrorInvalidClient,
		},
		{
			name: "unknown client",
			req: func() models.TokenRequest {
				return models.TokenRequest{GrantType: "authorization_code", ClientID: "nope", ClientSecret: "x", Code: "x"}
			},
			status: http.StatusUnauthorized,
			code:   ErrorInvalidClient,
		},
		{
			name: "unknown code",
			req: func() models.TokenRequest {
				return models.TokenRequest{GrantType: "authorization_code", ClientID: testClientID, ClientSecret: testSecret, Code: "unknown"}
			},
			status: http.StatusBadRequest,
			code:   ErrorInvalidGrant,
		},
		{
			name: "mismatching redirect",
			req: func() models.TokenRequest {
				code := authorize(t, srv, url.Values{"client_id": {testClientID}, "response_type": {"code"}})
				return models.TokenRequest{GrantType: "authorization_code", ClientID: testClientID, ClientSecret: testSecret, Code: code, RedirectURI: "http://other/cb"}
			},
			status: http.StatusBadRequest,
			code:   ErrorInvalidGrant,
		},
		{
			name: "unknown refresh token",
			req: func() models.TokenRequest {
				return models.TokenRequest{GrantType: "refresh_token", ClientID: testClientID, ClientSecret: testSecret, RefreshToken: "unknown"}
			},
			status: http.StatusBadRequest,
			code:   ErrorInvalidGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := srv.ExchangeToken(ctx, tt.req())
			assert.Nil(t, resp)
			fe := asFatal(t, err)
			assert.Equal(t, tt.status, fe.Status)
			assert.Equal(t, tt.code, fe.Code)
		})
	}
}

func TestExchangeRefreshToken(t *testing.T) {
	ctx := context.Background()
	srv, s := newTestServer(t, nil)
	code := authorize(t, srv, url.Values{"client_id": {testClientID}, "response_type": {"code"}})

	first, err := srv.ExchangeToken(ctx, models.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Code:         code,
	})
	require.NoError(t, err)

	second, err := srv.ExchangeToken(ctx, models.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     testClientID,
		ClientSecret: testSecret,
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", second.TokenType)
	assert.Equal(t, "identify", second.Scope)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = s.FindAccessToken(ctx, first.AccessToken)
	assert.ErrorIs(t, err, store.ErrTokenNotFound)
	record, err := s.FindAccessToken(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.GrantRefreshToken, record.GrantType)

	_, err = srv.ExchangeToken(ctx, models.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     testClientID,
		ClientSecret: testSecret,
		RefreshToken: first.RefreshToken,
	})
	assert.Equal(t, ErrorInvalidGrant, asFatal(t, err).Code)
}
