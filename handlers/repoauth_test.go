package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSpec = "https%3A%2F%2Frdm.example.org%2Fx1234/master"

func newTokenEndpoint(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func repoAuthorizeURL(provider string) string {
	return "/repoauth/authorize?" + url.Values{
		"provider_name": {provider},
		"provider_id":   {repoProviderID},
		"spec":          {testSpec},
	}.Encode()
}

func beginRepoAuth(t *testing.T, env *testEnv, user string) string {
	t.Helper()
	rec := env.do(userRequest(http.MethodGet, repoAuthorizeURL(repoProvider), user))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.example.org", u.Host)
	assert.Equal(t, "https://"+testHost+"/repoauth/callback", u.Query().Get("redirect_uri"))
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func callbackURL(state string, extra url.Values) string {
	q := url.Values{"state": {state}}
	for k, v := range extra {
		q[k] = v
	}
	return "/repoauth/callback?" + q.Encode()
}

func TestRepoAuthFlow(t *testing.T) {
	provider, calls := newTokenEndpoint(t, http.StatusOK, `{"access_token":"repo-token","token_type":"bearer","expires_in":3600}`)
	env := newTestEnv(t, provider.URL)
	launch := "https://" + testHost + "/v2/rdm/" + testSpec

	state := beginRepoAuth(t, env, "alice")

	rec := env.do(userRequest(http.MethodGet, callbackURL(state, url.Values{"code": {"xyz"}}), "alice"))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, launch, rec.Header().Get("Location"))
	assert.EqualValues(t, 1, calls.Load())

	// a second visit reuses the stored token
	rec = env.do(userRequest(http.MethodGet, repoAuthorizeURL(repoProvider), "alice"))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, launch, rec.Header().Get("Location"))
	assert.EqualValues(t, 1, calls.Load())

	// replaying the callback does not exchange again
	rec = env.do(userRequest(http.MethodGet, callbackURL(state, url.Values{"code": {"xyz"}}), "alice"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRepoAuthAuthorizeErrors(t *testing.T) {
	env := newTestEnv(t, "http://unused")

	rec := env.do(userRequest(http.MethodGet, "/repoauth/authorize?provider_name=rdm", "alice"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(userRequest(http.MethodGet, repoAuthorizeURL("weko3"), "alice"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(userRequest(http.MethodGet, repoAuthorizeURL(repoProvider), ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRepoAuthCallbackErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		user   string
		extra  url.Values
		want   int
	}{
		{name: "missing code", status: http.StatusOK, user: "alice", want: http.StatusBadRequest},
		{name: "denied", status: http.StatusOK, user: "alice", extra: url.Values{"error": {"access_denied"}}, want: http.StatusForbidden},
		{name: "exchange rejected", status: http.StatusBadRequest, user: "alice", extra: url.Values{"code": {"xyz"}}, want: http.StatusBadGateway},
		{name: "other user", status: http.StatusOK, user: "bob", extra: url.Values{"code": {"xyz"}}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, _ := newTokenEndpoint(t, tt.status, `{"error":"invalid_grant"}`)
			env := newTestEnv(t, provider.URL)
			state := beginRepoAuth(t, env, "alice")

			rec := env.do(userRequest(http.MethodGet, callbackURL(state, tt.extra), tt.user))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	t.Run("unknown state", func(t *testing.T) {
		env := newTestEnv(t, "http://unused")
		rec := env.do(userRequest(http.MethodGet, callbackURL("nope", url.Values{"code": {"xyz"}}), "alice"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing state", func(t *testing.T) {
		env := newTestEnv(t, "http://unused")
		rec := env.do(userRequest(http.MethodGet, "/repoauth/callback?code=xyz", "alice"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
