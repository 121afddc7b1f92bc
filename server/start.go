package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"binder-oauth/bearer"
	cachepackage "binder-oauth/cache"
	"binder-oauth/config"
	"binder-oauth/database"
	"binder-oauth/handlers"
	"binder-oauth/jobs"
	"binder-oauth/metrics"
	"binder-oauth/oauthserver"
	"binder-oauth/repoauth"
	"binder-oauth/store"

	"github.com/jmoiron/sqlx"
	"github.com/umakantv/go-utils/cache"
	"github.com/umakantv/go-utils/httpserver"
	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// route pairs an httpserver route with its handler.
type route struct {
	httpserver.Route
	handler httpserver.HandlerFunc
}

// components holds everything a running service is made of.
type components struct {
	oauthDB    *sqlx.DB
	repoDB     *sqlx.DB
	cache      cache.Cache
	metrics    *metrics.Metrics
	store      *store.Store
	sessions   *repoauth.SessionStore
	resolver   *bearer.Resolver
	oauth      *oauthserver.Server
	broker     *repoauth.Broker
	scheduler  *jobs.Scheduler
	auth       *handlers.Authenticator
	cfg        *config.Config
	baseLogger *zap.Logger
}

// newCheckAuth authenticates bearer routes with OAuth access tokens.
func newCheckAuth(resolver *bearer.Resolver) func(r *http.Request) (bool, httpserver.RequestAuth) {
	return func(r *http.Request) (bool, httpserver.RequestAuth) {
		user, ok := resolver.Resolve(r.Context(), r)
		if !ok {
			return false, httpserver.RequestAuth{}
		}
		return true, httpserver.RequestAuth{
			Type:   "bearer",
			Client: user,
			Claims: map[string]interface{}{"user": user},
		}
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// build opens the databases and wires every component.
func build(cfg *config.Config, zl *zap.Logger) (_ *components, err error) {
	c := &components{cfg: cfg, baseLogger: zl, metrics: metrics.New()}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	if c.oauthDB, err = database.InitializeDatabase(cfg.OAuth.DBPath); err != nil {
		return nil, err
	}
	if c.repoDB, err = database.InitializeDatabase(cfg.RepoAuth.DBPath); err != nil {
		return nil, err
	}

	c.store, err = store.New(c.oauthDB, store.Schema, zl.Named("store"), store.WithMetrics(c.metrics))
	if err != nil {
		return nil, err
	}
	if err = database.Migrate(c.oauthDB, cfg.OAuth.MigrationsDir); err != nil {
		return nil, err
	}
	for _, client := range cfg.OAuth.Clients {
		if err = c.store.SyncClient(context.Background(), client.ClientID, client.ClientSecret, client.RedirectURI, client.Description); err != nil {
			return nil, fmt.Errorf("register client %s: %w", client.ClientID, err)
		}
	}

	if c.sessions, err = repoauth.NewSessionStore(c.repoDB, repoauth.Schema); err != nil {
		return nil, err
	}
	if c.cache, err = cachepackage.InitializeCache(cfg.Cache); err != nil {
		return nil, err
	}

	c.resolver = bearer.NewResolver(c.store, zl.Named("bearer"))
	c.oauth = oauthserver.NewServer(c.store, oauthserver.Config{
		AllowedScopes:             cfg.OAuth.AllowedScopes,
		DefaultScopes:             cfg.OAuth.DefaultScopes,
		NoConfirmList:             cfg.OAuth.NoConfirmList,
		CodeTTL:                   cfg.OAuth.CodeTTL,
		AccessTokenTTL:            cfg.OAuth.AccessTokenTTL,
		RefreshTokenTTL:           cfg.OAuth.RefreshTokenTTL,
		AllowRelativeRedirectURIs: cfg.OAuth.AllowRelativeRedirectURIs,
	}, zl.Named("oauthserver"), c.metrics)
	c.broker = repoauth.NewBroker(c.sessions, repoauth.BrokerConfig{
		PublicURL:       cfg.PublicURL,
		Providers:       cfg.RepoAuth.Providers,
		DefaultTokenTTL: cfg.RepoAuth.DefaultTokenTTL,
		HTTPClient:      &http.Client{Timeout: 30 * time.Second},
	}, c.cache, zl.Named("repoauth"), c.metrics)
	c.auth = handlers.NewAuthenticator(handlers.HeaderAuthenticator{Header: cfg.Auth.UserHeader}, cfg.Auth.LoginURL)

	c.scheduler, err = jobs.NewScheduler(c.store, c.sessions, jobs.Config{
		PurgeInterval: cfg.OAuth.PurgeInterval,
		SweepInterval: cfg.RepoAuth.SweepInterval,
		SessionTTL:    cfg.RepoAuth.SessionTTL,
	}, zl.Named("jobs"), c.metrics)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *components) close() {
	if c.scheduler != nil {
		if err := c.scheduler.Shutdown(); err != nil {
			c.baseLogger.Warn("Scheduler shutdown failed", zap.Error(err))
		}
	}
	if c.cache != nil {
		defer c.cache.Close()
	}
	if c.repoDB != nil {
		c.repoDB.Close()
	}
	if c.oauthDB != nil {
		c.oauthDB.Close()
	}
}

// routes lists every endpoint. The rcosrepo import routes must precede the
// generic RDM routes they would otherwise match.
func (c *components) routes() []route {
	authorize := handlers.NewOAuthAuthorizeHandler(c.oauth, c.auth)
	token := handlers.NewOAuthTokenHandler(c.oauth)
	services := handlers.NewServicesHandler(c.resolver, c.cfg.Services)
	repo := handlers.NewRepoAuthHandler(c.broker, c.auth, c.cfg.PublicURL)
	redirects := handlers.NewRedirectHandler(c.auth)
	admin := handlers.NewOAuthClientHandler(c.store, c.cfg.AdminToken)
	health := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"oauth_db":    c.store,
		"repoauth_db": c.sessions,
	})

	return []route{
		{httpserver.Route{Name: "HealthCheck", Method: "GET", Path: "/health", AuthType: "none"}, health.HandleHealth},
		{httpserver.Route{Name: "Metrics", Method: "GET", Path: "/metrics", AuthType: "none"}, handlers.MetricsHandler(c.metrics.Handler())},

		{httpserver.Route{Name: "OAuthAuthorize", Method: "GET", Path: "/api/oauth2/authorize", AuthType: "none"}, authorize.HandleAuthorize},
		{httpserver.Route{Name: "OAuthConfirm", Method: "POST", Path: "/api/oauth2/authorize", AuthType: "none"}, authorize.HandleConfirm},
		{httpserver.Route{Name: "OAuthToken", Method: "POST", Path: "/api/oauth2/token", AuthType: "none"}, token.HandleToken},
		{httpserver.Route{Name: "ListServices", Method: "GET", Path: "/api/services", AuthType: "bearer"}, services.HandleList},

		{httpserver.Route{Name: "ListOAuthClients", Method: "GET", Path: "/api/oauth2/clients", AuthType: "none"}, admin.GetClients},
		{httpserver.Route{Name: "RegisterOAuthClient", Method: "POST", Path: "/api/oauth2/clients", AuthType: "none"}, admin.RegisterClient},
		{httpserver.Route{Name: "DeleteOAuthClient", Method: "DELETE", Path: "/api/oauth2/clients/{client_id}", AuthType: "none"}, admin.DeleteClient},
		{httpserver.Route{Name: "RevokeSession", Method: "DELETE", Path: "/api/oauth2/sessions/{session_id}", AuthType: "none"}, admin.RevokeSession},

		{httpserver.Route{Name: "RepoAuthAuthorize", Method: "GET", Path: "/repoauth/authorize", AuthType: "none"}, repo.HandleAuthorize},
		{httpserver.Route{Name: "RepoAuthCallback", Method: "GET", Path: "/repoauth/callback", AuthType: "none"}, repo.HandleCallback},

		{httpserver.Route{Name: "RCOSRepoImport", Method: "GET", Path: "/rdm/{host}/rcosrepo/import/{project}", AuthType: "none"}, redirects.HandleRDM},
		{httpserver.Route{Name: "RCOSRepoImportPath", Method: "GET", Path: "/rdm/{host}/rcosrepo/import/{project}/{path:.*}", AuthType: "none"}, redirects.HandleRDM},
		{httpserver.Route{Name: "RDMRedirect", Method: "GET", Path: "/rdm/{host}/{project}", AuthType: "none"}, redirects.HandleRDM},
		{httpserver.Route{Name: "RDMRedirectPath", Method: "GET", Path: "/rdm/{host}/{project}/{path:.*}", AuthType: "none"}, redirects.HandleRDM},
		{httpserver.Route{Name: "WEKO3Redirect", Method: "GET", Path: "/weko3/{host}/{bucket}/{files:.+}", AuthType: "none"}, redirects.HandleWEKO3},
	}
}

// StartServer runs the service until the HTTP server stops.
func StartServer(cfg *config.Config) error {
	logger.Init(logger.LoggerConfig{
		CallerKey:  "file",
		TimeKey:    "timestamp",
		CallerSkip: 1,
	})
	logger.Info("Starting binder-oauth...")

	zl, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer zl.Sync()

	c, err := build(cfg, zl)
	if err != nil {
		logger.Error("Failed to initialize service", zap.Error(err))
		return err
	}
	defer c.close()

	c.scheduler.Start()

	server := httpserver.New(cfg.Port, newCheckAuth(c.resolver))
	for _, rt := range c.routes() {
		server.Register(rt.Route, rt.handler)
	}

	logger.Info("binder-oauth started", zap.String("port", cfg.Port), zap.String("public_url", cfg.PublicURL))
	logger.Info("OAuth endpoints: /api/oauth2/authorize, /api/oauth2/token, /api/services")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed to start", zap.Error(err))
		return err
	}
	return nil
}
