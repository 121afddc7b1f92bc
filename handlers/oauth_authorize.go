package handlers

import (
	"context"
	"errors"
	"html/template"
	"net/http"

	"binder-oauth/oauthserver"

	"go.uber.org/zap"
)

var confirmPage = template.Must(template.New("oauth").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorize access</title></head>
<body>
<h1>Authorize access</h1>
<p>{{.Client}} would like permission to identify you as <strong>{{.User}}</strong>.</p>
<form method="POST" action="">
{{range .Scopes}}<label><input type="checkbox" name="scopes" value="{{.}}" checked> {{.}}</label><br>
{{end}}<button type="submit">Authorize</button>
</form>
</body>
</html>
`))

type confirmData struct {
	Client string
	User   string
	Scopes []string
}

// OAuthAuthorizeHandler serves the authorization endpoint.
type OAuthAuthorizeHandler struct {
	server *oauthserver.Server
	auth   *Authenticator
}

func NewOAuthAuthorizeHandler(server *oauthserver.Server, auth *Authenticator) *OAuthAuthorizeHandler {
	return &OAuthAuthorizeHandler{server: server, auth: auth}
}

// HandleAuthorize handles GET /api/oauth2/authorize. Clients on the
// no-confirm list are redirected straight back with a code; everyone else
// gets the confirmation page, which posts back to the same URL.
func (h *OAuthAuthorizeHandler) HandleAuthorize(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	user, ok := h.auth.RequireUser(ctx, w, r)
	if !ok {
		return
	}
	logRequest(ctx, "info", "OAuth authorize request", zap.String("user", user), zap.String("uri", scrubURI(r.URL.RequestURI())))

	req, err := h.server.ValidateAuthorizationRequest(ctx, r.URL.Query())
	if err != nil {
		writeAuthorizeError(ctx, w, r, err)
		return
	}
	session := sessionID(w, r)

	if !h.server.NeedsConfirmation(user, req.Client) {
		h.complete(ctx, w, r, req, nil, user, session)
		return
	}

	logRequest(ctx, "info", "Showing OAuth confirm page", zap.String("client_id", req.Client.Identifier), zap.String("user", user))
	client := req.Client.Description
	if client == "" {
		client = req.Client.Identifier
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := confirmPage.Execute(w, confirmData{Client: client, User: user, Scopes: req.Scopes}); err != nil {
		logRequest(ctx, "error", "Failed to render confirm page", zap.Error(err))
	}
}

// HandleConfirm handles POST /api/oauth2/authorize from the confirmation
// page. The form must come from the page it was served on.
func (h *OAuthAuthorizeHandler) HandleConfirm(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	user, ok := h.auth.RequireUser(ctx, w, r)
	if !ok {
		return
	}

	referer := r.Header.Get("Referer")
	target := fullURL(r)
	if referer != "" && oauthserver.ProtocolMismatch(referer, target) {
		logRequest(ctx, "info", "Protocol mismatch", zap.String("referer", referer), zap.String("url", scrubURI(target)))
	}
	if err := oauthserver.CheckOrigin(referer, target); err != nil {
		var mismatch *oauthserver.OriginMismatchError
		if errors.As(err, &mismatch) {
			logRequest(ctx, "error", "Rejecting OAuth confirmation",
				zap.String("referer", scrubURI(mismatch.Referer)),
				zap.String("url", scrubURI(mismatch.URL)),
				zap.String("reason", mismatch.Message))
			http.Error(w, mismatch.Message, mismatch.Status())
			return
		}
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	req, err := h.server.ValidateAuthorizationRequest(ctx, r.URL.Query())
	if err != nil {
		writeAuthorizeError(ctx, w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form body", http.StatusBadRequest)
		return
	}
	h.complete(ctx, w, r, req, r.PostForm["scopes"], user, sessionID(w, r))
}

func (h *OAuthAuthorizeHandler) complete(ctx context.Context, w http.ResponseWriter, r *http.Request, req *oauthserver.AuthorizationRequest, scopes []string, user, session string) {
	redirectURL, err := h.server.CompleteAuthorization(ctx, req, scopes, oauthserver.Credentials{
		UserID:    user,
		SessionID: session,
	})
	if err != nil {
		writeAuthorizeError(ctx, w, r, err)
		return
	}
	logRequest(ctx, "info", "OAuth authorization granted", zap.String("client_id", req.Client.Identifier), zap.String("user", user))
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// writeAuthorizeError shows fatal errors to the user and sends recoverable
// ones back to the client's redirect URI.
func writeAuthorizeError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	var fatal *oauthserver.FatalClientError
	var redirectErr *oauthserver.OAuth2Error
	switch {
	case errors.As(err, &fatal):
		logRequest(ctx, "error", "OAuth client error", zap.String("error", fatal.Code), zap.String("description", fatal.Description))
		http.Error(w, fatal.Description, fatal.Status)
	case errors.As(err, &redirectErr):
		logRequest(ctx, "error", "OAuth error", zap.String("error", redirectErr.Code), zap.String("description", redirectErr.Description))
		http.Redirect(w, r, redirectErr.InURI(), http.StatusFound)
	default:
		logRequest(ctx, "error", "OAuth authorization failed", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
