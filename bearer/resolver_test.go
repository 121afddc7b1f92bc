package bearer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"binder-oauth/database"
	"binder-oauth/models"
	"binder-oauth/store"
	"binder-oauth/tokens"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := store.New(db, store.Schema, zap.NewNop(), store.WithSecretHasher(tokens.TokenHasher))
	require.NoError(t, err)
	_, err = s.CreateClient(context.Background(), "AAAA", "BBBB", "http://localhost/cb", "")
	require.NoError(t, err)
	return s
}

func issue(t *testing.T, s *store.Store, ttl time.Duration) string {
	t.Helper()
	issued, err := s.IssueAccessToken(context.Background(), store.TokenParams{
		ClientID:  "AAAA",
		UserID:    "alice",
		GrantType: models.GrantAuthorizationCode,
		TTL:       ttl,
	})
	require.NoError(t, err)
	return issued.AccessToken
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name string
		req  func() *http.Request
		want string
	}{
		{
			name: "query argument",
			req:  func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/services?token=abc", nil) },
			want: "abc",
		},
		{
			name: "body argument",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/api/services", strings.NewReader(url.Values{"token": {"abc"}}.Encode()))
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return r
			},
			want: "abc",
		},
		{
			name: "argument wins over header",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/api/services?token=abc", nil)
				r.Header.Set("Authorization", "Bearer def")
				return r
			},
			want: "abc",
		},
		{
			name: "bearer header",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/api/services", nil)
				r.Header.Set("Authorization", "Bearer   def ")
				return r
			},
			want: "def",
		},
		{
			name: "scheme is case sensitive",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/api/services", nil)
				r.Header.Set("Authorization", "bearer def")
				return r
			},
			want: "",
		},
		{
			name: "other scheme",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/api/services", nil)
				r.Header.Set("Authorization", "token def")
				return r
			},
			want: "",
		},
		{
			name: "nothing",
			req:  func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/services", nil) },
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenFromRequest(tt.req()))
		})
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	token := issue(t, s, time.Hour)
	resolver := NewResolver(s, zap.NewNop())

	r := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	user, ok := resolver.Resolve(ctx, r)
	assert.True(t, ok)
	assert.Equal(t, "alice", user)

	record, err := s.FindAccessToken(ctx, token)
	require.NoError(t, err)
	assert.NotNil(t, record.LastActivity)

	r = httptest.NewRequest(http.MethodGet, "/api/services", nil)
	r.Header.Set("Authorization", "Bearer "+token[:len(token)-1]+"x")
	_, ok = resolver.Resolve(ctx, r)
	assert.False(t, ok)

	_, ok = resolver.Resolve(ctx, httptest.NewRequest(http.MethodGet, "/api/services", nil))
	assert.False(t, ok)
}

func TestResolveExpired(t *testing.T) {
	s := newTestStore(t)
	token := issue(t, s, time.Hour)
	resolver := NewResolver(s, zap.NewNop())
	resolver.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, ok := resolver.Resolve(context.Background(), httptest.NewRequest(http.MethodGet, "/api/services?token="+token, nil))
	assert.False(t, ok)
}

type failingFinder struct{}

func (failingFinder) FindAccessToken(context.Context, string) (*models.OAuthAccessToken, error) {
	return nil, errors.New("database is locked")
}

func (failingFinder) TouchAccessToken(context.Context, int64) error { return nil }

func TestResolveNeverFails(t *testing.T) {
	resolver := NewResolver(failingFinder{}, zap.NewNop())
	_, ok := resolver.Resolve(context.Background(), httptest.NewRequest(http.MethodGet, "/api/services?token=abc", nil))
	assert.False(t, ok)
}
