package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionCookieName is shared with the other services on the domain, so
// the cookie is set in plain text.
const SessionCookieName = "binderhub-session-id"

// sessionID returns the browser session id, starting a session when the
// request carries none.
func sessionID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	cookie := &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestScheme(r) == "https",
	}
	logRequest(r.Context(), "debug", "Setting session cookie", zap.Bool("secure", cookie.Secure))
	http.SetCookie(w, cookie)
	return id
}

// requestScheme is the scheme the client used, honouring a TLS terminating
// proxy in front of the service.
func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return "http"
}

// fullURL reconstructs the absolute URL the client requested.
func fullURL(r *http.Request) string {
	host := r.Host
	if forwarded := r.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return requestScheme(r) + "://" + host + r.URL.RequestURI()
}
