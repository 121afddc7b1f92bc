package oauthserver

import (
	"context"
	"time"

	"binder-oauth/metrics"
	"binder-oauth/models"
	"binder-oauth/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "binder-oauth/oauthserver"

// Store is the persistence the authorization server needs.
type Store interface {
	GetClient(ctx context.Context, identifier string) (*models.OAuthClient, error)
	VerifyClientSecret(client *models.OAuthClient, secret string) bool
	IssueCode(ctx context.Context, p store.CodeParams) (string, error)
	ConsumeCode(ctx context.Context, code string) (*models.OAuthCode, error)
	IssueAccessToken(ctx context.Context, p store.TokenParams) (*store.IssuedToken, error)
	RefreshAccessToken(ctx context.Context, refreshToken, clientID string, ttl, refreshTTL time.Duration) (*store.IssuedToken, error)
}

// Config controls the authorization server.
type Config struct {
	// AllowedScopes bounds what clients may request. Empty allows any scope.
	AllowedScopes []string
	// DefaultScopes are granted when a request names no scope.
	DefaultScopes []string
	// NoConfirmList holds client ids that skip the confirmation page.
	NoConfirmList []string

	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// AllowRelativeRedirectURIs accepts redirect URIs such as
	// "/user/foo/oauth_callback" in addition to absolute URIs.
	AllowRelativeRedirectURIs bool
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		AllowedScopes:   []string{"identify"},
		DefaultScopes:   []string{"identify"},
		CodeTTL:         10 * time.Minute,
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
	}
}

// Server is the OAuth2 authorization server state machine. It works on
// plain parameters and leaves HTTP concerns to its callers.
type Server struct {
	store     Store
	cfg       Config
	noConfirm map[string]struct{}
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// NewServer creates a Server.
func NewServer(s Store, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	noConfirm := make(map[string]struct{}, len(cfg.NoConfirmList))
	for _, id := range cfg.NoConfirmList {
		noConfirm[id] = struct{}{}
	}
	return &Server{
		store:     s,
		cfg:       cfg,
		noConfirm: noConfirm,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer(tracerName),
	}
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "oauthserver."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
