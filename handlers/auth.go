package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"binder-oauth/tokens"

	"github.com/umakantv/go-utils/errs"
	"go.uber.org/zap"
)

// UserAuthenticator identifies the browser user of a request.
type UserAuthenticator interface {
	User(r *http.Request) (string, bool)
}

// HeaderAuthenticator trusts a header set by the authenticating proxy in
// front of the service.
type HeaderAuthenticator struct {
	Header string
}

func (a HeaderAuthenticator) User(r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.Header.Get(a.Header))
	return user, user != ""
}

// Authenticator guards browser routes.
type Authenticator struct {
	users    UserAuthenticator
	loginURL string
}

// NewAuthenticator creates an Authenticator. Unauthenticated browsers are
// sent to loginURL when it is set and refused otherwise.
func NewAuthenticator(users UserAuthenticator, loginURL string) *Authenticator {
	return &Authenticator{users: users, loginURL: loginURL}
}

// RequireUser returns the current user. When there is none the response
// has already been written and ok is false.
func (a *Authenticator) RequireUser(ctx context.Context, w http.ResponseWriter, r *http.Request) (user string, ok bool) {
	if user, ok := a.users.User(r); ok {
		return user, true
	}

	if a.loginURL != "" && r.Method == http.MethodGet {
		target := a.loginURL + "?" + url.Values{"next": {r.URL.RequestURI()}}.Encode()
		if strings.Contains(a.loginURL, "?") {
			target = a.loginURL + "&" + url.Values{"next": {r.URL.RequestURI()}}.Encode()
		}
		logRequest(ctx, "info", "Redirecting unauthenticated user to login", zap.String("login_url", a.loginURL))
		http.Redirect(w, r, target, http.StatusFound)
		return "", false
	}

	logRequest(ctx, "info", "Request without authenticated user", requestFields(r)...)
	writeJSON(w, http.StatusUnauthorized, errs.NewAuthenticationError("Not logged in"))
	return "", false
}

// requireAdmin checks the admin API token presented as a bearer token.
func requireAdmin(ctx context.Context, w http.ResponseWriter, r *http.Request, adminToken string) bool {
	presented := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if adminToken == "" || presented == "" || !tokens.Compare(presented, adminToken) {
		logRequest(ctx, "error", "Admin API access denied", requestFields(r)...)
		writeJSON(w, http.StatusUnauthorized, errs.NewAuthenticationError("Admin token required"))
		return false
	}
	return true
}
