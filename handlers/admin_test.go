package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"binder-oauth/models"
	"binder-oauth/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminRequest(method, target, body string) *http.Request {
	req := bodyRequest(method, target, "", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAdminRequiresToken(t *testing.T) {
	env := newTestEnv(t, "http://unused")

	rec := env.do(userRequest(http.MethodGet, "/api/oauth2/clients", "alice"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := userRequest(http.MethodGet, "/api/oauth2/clients", "")
	req.Header.Set("Authorization", "Bearer wrong")
	rec = env.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminClientLifecycle(t *testing.T) {
	env := newTestEnv(t, "http://unused")
	ctx := context.Background()

	rec := env.do(adminRequest(http.MethodPost, "/api/oauth2/clients",
		`{"client_id":"binderhub","redirect_uri":"/hub/oauth_callback","description":"BinderHub"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.CreateOAuthClientResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "binderhub", created.Identifier)
	assert.NotEmpty(t, created.ClientSecret)
	assert.NotContains(t, rec.Body.String(), `"secret"`)

	client, err := env.store.GetClient(ctx, "binderhub")
	require.NoError(t, err)
	assert.True(t, env.store.VerifyClientSecret(client, created.ClientSecret))

	rec = env.do(adminRequest(http.MethodPost, "/api/oauth2/clients", `{"client_id":"binderhub","redirect_uri":"/x"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(adminRequest(http.MethodGet, "/api/oauth2/clients", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var clients []models.OAuthClient
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clients))
	assert.Len(t, clients, 3)

	rec = env.do(adminRequest(http.MethodDelete, "/api/oauth2/clients/binderhub", ""))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err = env.store.GetClient(ctx, "binderhub")
	assert.ErrorIs(t, err, store.ErrClientNotFound)

	rec = env.do(adminRequest(http.MethodDelete, "/api/oauth2/clients/binderhub", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRegisterValidation(t *testing.T) {
	env := newTestEnv(t, "http://unused")

	for name, body := range map[string]string{
		"invalid json":      `{`,
		"missing client id": `{"redirect_uri":"/x"}`,
		"missing redirect":  `{"client_id":"a"}`,
		"relative redirect": `{"client_id":"a","redirect_uri":"x/y"}`,
		"fragment":          `{"client_id":"a","redirect_uri":"https://a.org/cb#frag"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := env.do(adminRequest(http.MethodPost, "/api/oauth2/clients", body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAdminRevokeSession(t *testing.T) {
	env := newTestEnv(t, "http://unused")

	req := userRequest(http.MethodGet, authorizeURL(testClientID), "alice")
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "session-1"})
	rec := env.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	code := codeFrom(t, rec.Header().Get("Location"))

	rec = env.do(exchangeForm(map[string][]string{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {testClientID},
		"client_secret": {testSecret},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	var token models.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))

	rec = env.do(adminRequest(http.MethodDelete, "/api/oauth2/sessions/session-1", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"revoked":1}`, rec.Body.String())

	req = userRequest(http.MethodGet, "/api/services", "")
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	rec = env.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
