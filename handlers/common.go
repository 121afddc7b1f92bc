package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/umakantv/go-utils/httpserver"
	logger "github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// scrubbedParams are query arguments never written to logs.
var scrubbedParams = []string{"token", "auth", "key", "code", "state", "client_secret", "refresh_token"}

// scrubbedHeaders are request headers never written to logs.
var scrubbedHeaders = []string{"Authorization", "Cookie"}

// logRequest logs with the route, method, path and authenticated client
// taken from the httpserver request context.
func logRequest(ctx context.Context, level string, message string, fields ...zap.Field) {
	routeName := httpserver.GetRouteName(ctx)
	method := httpserver.GetRouteMethod(ctx)
	path := httpserver.GetRoutePath(ctx)
	auth := httpserver.GetRequestAuth(ctx)

	logMsg := time.Now().Format("2006-01-02 15:04:05") + " - " + routeName + " - " + method + " - " + path
	if auth != nil {
		logMsg += " - client:" + auth.Client
	}
	if message != "" {
		logMsg += " - " + message
	}

	allFields := append([]zap.Field{
		zap.String("route", routeName),
		zap.String("method", method),
		zap.String("path", path),
	}, fields...)

	switch level {
	case "info":
		logger.Info(logMsg, allFields...)
	case "error":
		logger.Error(logMsg, allFields...)
	case "debug":
		logger.Debug(logMsg, allFields...)
	}
}

// scrubURI replaces secret query arguments of uri with [secret].
func scrubURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.RawQuery == "" {
		return uri
	}
	q := u.Query()
	changed := false
	for _, name := range scrubbedParams {
		if values, ok := q[name]; ok {
			for i := range values {
				values[i] = "[secret]"
			}
			changed = true
		}
	}
	if !changed {
		return uri
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// scrubHeaders returns a copy of h with credential headers masked.
func scrubHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range scrubbedHeaders {
		if values := out.Values(name); len(values) > 0 {
			masked := make([]string, len(values))
			for i, v := range values {
				masked[i] = maskCredential(v)
			}
			out[http.CanonicalHeaderKey(name)] = masked
		}
	}
	return out
}

func maskCredential(v string) string {
	if scheme, _, ok := strings.Cut(v, " "); ok && !strings.Contains(scheme, "=") {
		return scheme + " [secret]"
	}
	return "[secret]"
}

// requestFields describes r for logging without leaking credentials.
func requestFields(r *http.Request) []zap.Field {
	return []zap.Field{
		zap.String("uri", scrubURI(r.URL.RequestURI())),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
		zap.Any("headers", scrubHeaders(r.Header)),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
