package bearer

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"binder-oauth/models"
	"binder-oauth/store"

	"go.uber.org/zap"
)

var authHeaderPattern = regexp.MustCompile(`^Bearer\s+(.+)$`)

// TokenFinder looks up access tokens.
type TokenFinder interface {
	FindAccessToken(ctx context.Context, token string) (*models.OAuthAccessToken, error)
	TouchAccessToken(ctx context.Context, id int64) error
}

// Resolver maps a request's bearer token to the owning user.
type Resolver struct {
	tokens TokenFinder
	logger *zap.Logger
	now    func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(tokens TokenFinder, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{tokens: tokens, logger: logger, now: time.Now}
}

// TokenFromRequest extracts the presented token: the "token" argument
// first, then an "Authorization: Bearer" header.
func TokenFromRequest(r *http.Request) string {
	if token := r.FormValue("token"); token != "" {
		return token
	}
	match := authHeaderPattern.FindStringSubmatch(r.Header.Get("Authorization"))
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}

// Resolve returns the user owning the request's token. Missing, unknown,
// expired and orphaned tokens all yield ok == false.
func (res *Resolver) Resolve(ctx context.Context, r *http.Request) (user string, ok bool) {
	token := TokenFromRequest(r)
	if token == "" {
		return "", false
	}

	record, err := res.tokens.FindAccessToken(ctx, token)
	if err != nil {
		if !errors.Is(err, store.ErrTokenNotFound) {
			res.logger.Error("Failed to look up access token", zap.Error(err))
		}
		return "", false
	}
	if record.Expired(res.now()) {
		res.logger.Debug("Rejecting expired access token", zap.Int64("id", record.ID), zap.String("user", record.UserID))
		return "", false
	}

	if err := res.tokens.TouchAccessToken(ctx, record.ID); err != nil {
		res.logger.Warn("Failed to record token activity", zap.Int64("id", record.ID), zap.Error(err))
	}
	return record.UserID, true
}
