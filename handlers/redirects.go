package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RedirectHandler translates repository links from the RDM and WEKO3
// JupyterHub add-ons into launch URLs.
type RedirectHandler struct {
	auth *Authenticator
}

func NewRedirectHandler(auth *Authenticator) *RedirectHandler {
	return &RedirectHandler{auth: auth}
}

// HandleRDM handles /rdm/{host}/{project}[/{path}] and the
// /rdm/{host}/rcosrepo/import/{project}[/{path}] form.
func (h *RedirectHandler) HandleRDM(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if _, ok := h.auth.RequireUser(ctx, w, r); !ok {
		return
	}
	vars := mux.Vars(r)
	target := RDMLaunchPath(vars["host"], vars["project"], optionalPath(vars))
	logRequest(ctx, "info", "Redirecting RDM link", zap.String("location", target))
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleWEKO3 handles /weko3/{host}/{bucket}/{files}.
func (h *RedirectHandler) HandleWEKO3(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if _, ok := h.auth.RequireUser(ctx, w, r); !ok {
		return
	}
	vars := mux.Vars(r)
	target := WEKO3LaunchPath(vars["host"], vars["bucket"], "/"+vars["files"])
	logRequest(ctx, "info", "Redirecting WEKO3 link", zap.String("location", target))
	http.Redirect(w, r, target, http.StatusFound)
}

func optionalPath(vars map[string]string) string {
	path, ok := vars["path"]
	if !ok {
		return ""
	}
	return "/" + path
}

// RDMLaunchPath builds the launch path of an RDM project, pointing into
// its file storage when path has more than the leading slash.
func RDMLaunchPath(host, project, path string) string {
	target := "https://" + host + "/" + project
	if len(path) > 1 {
		target += "/files" + strings.TrimSuffix(path, "/")
	}
	return launchPath("rdm", target)
}

// WEKO3LaunchPath builds the launch path of files in a WEKO3 bucket.
func WEKO3LaunchPath(host, bucket, files string) string {
	return launchPath("weko3", "https://"+host+"/"+bucket+files)
}

func launchPath(provider, target string) string {
	return "/v2/" + provider + "/" + quoteAll(target) + "/master"
}

// quoteAll percent-encodes everything but unreserved characters.
func quoteAll(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
