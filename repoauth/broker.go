package repoauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"binder-oauth/metrics"
	"binder-oauth/models"

	"github.com/umakantv/go-utils/cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// CallbackPath is where providers send the user back to.
const CallbackPath = "/repoauth/callback"

// DefaultScopes are requested when a provider names none.
var DefaultScopes = []string{"osf.full_read"}

var (
	ErrAuthorizationDenied = errors.New("repository authorization denied")
	ErrMissingCode         = errors.New("repository callback carries no code")
	ErrTokenExchange       = errors.New("repository token exchange failed")
)

// Provider is an external repository host this service is a client of.
// ID identifies the specific host or resource, Name the provider type.
type Provider struct {
	Name         string   `mapstructure:"name"`
	ID           string   `mapstructure:"id"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	AuthorizeURL string   `mapstructure:"authorize_url"`
	TokenURL     string   `mapstructure:"token_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// BrokerConfig configures a Broker.
type BrokerConfig struct {
	// PublicURL is the externally visible base URL of this service.
	PublicURL string
	Providers []Provider
	// DefaultTokenTTL applies to provider tokens returned without expiry.
	// Zero keeps such tokens forever.
	DefaultTokenTTL time.Duration
	// HTTPClient is used for token exchange. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

type providerKey struct {
	name string
	id   string
}

// Broker runs the authorization code flow against external repository
// providers on behalf of a user and caches the resulting tokens.
type Broker struct {
	sessions        *SessionStore
	providers       map[providerKey]*oauth2.Config
	cache           cache.Cache
	httpClient      *http.Client
	defaultTokenTTL time.Duration
	logger          *zap.Logger
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	now             func() time.Time
}

// NewBroker creates a Broker. c may be nil to disable the token cache.
func NewBroker(sessions *SessionStore, cfg BrokerConfig, c cache.Cache, logger *zap.Logger, m *metrics.Metrics) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	redirectURL := JoinURLPath(cfg.PublicURL, CallbackPath)
	providers := make(map[providerKey]*oauth2.Config, len(cfg.Providers))
	for _, p := range cfg.Providers {
		scopes := p.Scopes
		if len(scopes) == 0 {
			scopes = DefaultScopes
		}
		providers[providerKey{p.Name, p.ID}] = &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   p.AuthorizeURL,
				TokenURL:  p.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: redirectURL,
			Scopes:      scopes,
		}
	}
	return &Broker{
		sessions:        sessions,
		providers:       providers,
		cache:           c,
		httpClient:      cfg.HTTPClient,
		defaultTokenTTL: cfg.DefaultTokenTTL,
		logger:          logger,
		metrics:         m,
		tracer:          otel.Tracer("binder-oauth/repoauth"),
		now:             time.Now,
	}
}

// Begin starts an authorization for user against the provider resource and
// returns the provider URL to send the user to. spec is handed back by
// Complete so the launch can resume.
func (b *Broker) Begin(ctx context.Context, user, providerName, providerID, spec string) (authURL string, err error) {
	ctx, span := b.tracer.Start(ctx, "repoauth.Begin", trace.WithAttributes(
		attribute.String("repoauth.provider", providerName),
		attribute.String("repoauth.provider_id", providerID),
	))
	defer func() { endSpan(span, err) }()

	conf, ok := b.providers[providerKey{providerName, providerID}]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownProvider, providerName, providerID)
	}
	state, err := b.sessions.NewSession(ctx, user, providerName, providerID, spec)
	if err != nil {
		return "", err
	}
	b.logger.Info("Starting repository authorization",
		zap.String("user", user),
		zap.String("provider", providerName),
		zap.String("provider_id", providerID))
	b.metrics.RepoAuth(providerName, "started")
	return conf.AuthCodeURL(state), nil
}

// Complete finishes the authorization identified by state using the query
// of the provider callback. A session that already holds a token is
// returned unchanged without contacting the provider again.
func (b *Broker) Complete(ctx context.Context, user, state string, callback url.Values) (session *models.RepoSession, err error) {
	ctx, span := b.tracer.Start(ctx, "repoauth.Complete")
	defer func() { endSpan(span, err) }()

	if got := callback.Get("state"); got != "" && got != state {
		return nil, ErrUnknownState
	}
	session, err = b.sessions.GetSession(ctx, user, state)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("repoauth.provider", session.ProviderName))
	if session.HasToken() {
		b.logger.Debug("Repository authorization already completed", zap.String("user", user), zap.String("provider", session.ProviderName))
		return session, nil
	}

	if reason := callback.Get("error"); reason != "" {
		b.metrics.RepoAuth(session.ProviderName, "denied")
		if desc := callback.Get("error_description"); desc != "" {
			reason += ": " + desc
		}
		return nil, fmt.Errorf("%w: %s", ErrAuthorizationDenied, reason)
	}
	code := callback.Get("code")
	if code == "" {
		return nil, ErrMissingCode
	}

	conf, ok := b.providers[providerKey{session.ProviderName, session.ProviderID}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownProvider, session.ProviderName, session.ProviderID)
	}
	if b.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	}
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		b.metrics.RepoAuth(session.ProviderName, "failed")
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}

	expires := token.Expiry
	if expires.IsZero() && b.defaultTokenTTL > 0 {
		expires = b.now().Add(b.defaultTokenTTL)
	}
	session, updated, err := b.sessions.RegisterToken(ctx, user, state, token.AccessToken, expires)
	if err != nil {
		return nil, err
	}
	if updated {
		b.metrics.RepoAuth(session.ProviderName, "completed")
		b.cacheToken(user, session.ProviderName, session.ProviderID, token.AccessToken, session.Expires)
		b.logger.Info("Repository token acquired",
			zap.String("user", user),
			zap.String("provider", session.ProviderName),
			zap.String("provider_id", session.ProviderID),
			zap.Time("expires", expires))
	}
	return session, nil
}

// CachedToken returns the unexpired token of user for the provider
// resource, or ErrNoCachedToken.
func (b *Broker) CachedToken(ctx context.Context, user, providerName, providerID string) (string, error) {
	if b.cache != nil {
		if cached, err := b.cache.Get(cacheKey(user, providerName, providerID)); err == nil {
			if token, ok := decodeCachedToken(cached); ok {
				return token, nil
			}
		}
	}
	token, expires, err := b.sessions.AccessTokenFor(ctx, user, providerName, providerID)
	if err != nil {
		return "", err
	}
	b.cacheToken(user, providerName, providerID, token, expires)
	return token, nil
}

// HasProvider reports whether the provider resource is configured.
func (b *Broker) HasProvider(providerName, providerID string) bool {
	_, ok := b.providers[providerKey{providerName, providerID}]
	return ok
}

func (b *Broker) cacheToken(user, providerName, providerID, token string, expires *int64) {
	if b.cache == nil || expires == nil {
		return
	}
	ttl := time.Unix(*expires, 0).Sub(b.now())
	if ttl <= 0 {
		return
	}
	b.cache.Set(cacheKey(user, providerName, providerID), token, ttl)
}

func cacheKey(user, providerName, providerID string) string {
	return "repoauth:token:" + user + ":" + providerName + ":" + providerID
}

func decodeCachedToken(v interface{}) (string, bool) {
	var raw string
	switch t := v.(type) {
	case string:
		raw = t
	case []byte:
		raw = string(t)
	default:
		return "", false
	}
	if len(raw) > 1 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			raw = s
		}
	}
	return raw, raw != ""
}

// JoinURLPath joins a base URL and path segments with single slashes.
func JoinURLPath(base string, parts ...string) string {
	joined := strings.TrimRight(base, "/")
	for _, part := range parts {
		part = strings.Trim(part, "/")
		if part == "" {
			continue
		}
		joined += "/" + part
	}
	return joined
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
