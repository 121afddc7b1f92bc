package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"binder-oauth/models"
	"binder-oauth/repoauth"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. BINDER_OAUTH_OAUTH_DB_PATH.
const EnvPrefix = "BINDER_OAUTH"

type Config struct {
	Environment string                     `mapstructure:"environment"`
	Port        string                     `mapstructure:"port"`
	PublicURL   string                     `mapstructure:"public_url"`
	HubURL      string                     `mapstructure:"hub_url"`
	AdminToken  string                     `mapstructure:"admin_token"`
	Auth        AuthConfig                 `mapstructure:"auth"`
	OAuth       OAuthConfig                `mapstructure:"oauth"`
	RepoAuth    RepoAuthConfig             `mapstructure:"repoauth"`
	Cache       CacheConfig                `mapstructure:"cache"`
	Services    []models.ServiceDescriptor `mapstructure:"services"`
}

// AuthConfig describes how the fronting hub identifies users.
type AuthConfig struct {
	UserHeader string `mapstructure:"user_header"`
	LoginURL   string `mapstructure:"login_url"`
}

type OAuthConfig struct {
	DBPath                    string         `mapstructure:"db_path"`
	MigrationsDir             string         `mapstructure:"migrations_dir"`
	Clients                   []ClientConfig `mapstructure:"clients"`
	NoConfirmList             []string       `mapstructure:"no_confirm_list"`
	AllowedScopes             []string       `mapstructure:"allowed_scopes"`
	DefaultScopes             []string       `mapstructure:"default_scopes"`
	CodeTTL                   time.Duration  `mapstructure:"code_ttl"`
	AccessTokenTTL            time.Duration  `mapstructure:"access_token_ttl"`
	RefreshTokenTTL           time.Duration  `mapstructure:"refresh_token_ttl"`
	AllowRelativeRedirectURIs bool           `mapstructure:"allow_relative_redirect_uris"`
	PurgeInterval             time.Duration  `mapstructure:"purge_interval"`
}

// ClientConfig is an OAuth client registered at startup.
type ClientConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
	Description  string `mapstructure:"description"`
}

type RepoAuthConfig struct {
	DBPath          string              `mapstructure:"db_path"`
	Providers       []repoauth.Provider `mapstructure:"providers"`
	SessionTTL      time.Duration       `mapstructure:"session_ttl"`
	DefaultTokenTTL time.Duration       `mapstructure:"default_token_ttl"`
	SweepInterval   time.Duration       `mapstructure:"sweep_interval"`
}

// CacheConfig selects the token cache. Type "none" or empty disables it.
type CacheConfig struct {
	Type          string `mapstructure:"type"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("port", "8585")
	v.SetDefault("public_url", "http://localhost:8585")
	v.SetDefault("hub_url", "http://localhost:8000")
	v.SetDefault("admin_token", "")

	v.SetDefault("auth.user_header", "X-Forwarded-User")
	v.SetDefault("auth.login_url", "")

	v.SetDefault("oauth.db_path", "binder_oauth.sqlite")
	v.SetDefault("oauth.migrations_dir", "")
	v.SetDefault("oauth.no_confirm_list", []string{})
	v.SetDefault("oauth.allowed_scopes", []string{"identify"})
	v.SetDefault("oauth.default_scopes", []string{"identify"})
	v.SetDefault("oauth.code_ttl", 10*time.Minute)
	v.SetDefault("oauth.access_token_ttl", time.Hour)
	v.SetDefault("oauth.refresh_token_ttl", 30*24*time.Hour)
	v.SetDefault("oauth.allow_relative_redirect_uris", true)
	v.SetDefault("oauth.purge_interval", 15*time.Minute)

	v.SetDefault("repoauth.db_path", "binder_repoauth.sqlite")
	v.SetDefault("repoauth.session_ttl", time.Hour)
	v.SetDefault("repoauth.default_token_ttl", time.Hour)
	v.SetDefault("repoauth.sweep_interval", 15*time.Minute)

	v.SetDefault("cache.type", "none")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
}

// Load reads configuration from the YAML file at path, if any, and the
// environment. Environment values win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Services) == 0 {
		cfg.Services = []models.ServiceDescriptor{{Type: "jupyterhub", URL: cfg.HubURL}}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDevelopment reports whether development logging should be used.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("public_url must be an absolute URL, got %q", c.PublicURL))
	}
	if c.Auth.UserHeader == "" {
		errs = append(errs, errors.New("auth.user_header is required"))
	}
	if c.OAuth.DBPath == "" {
		errs = append(errs, errors.New("oauth.db_path is required"))
	}
	if c.RepoAuth.DBPath == "" {
		errs = append(errs, errors.New("repoauth.db_path is required"))
	}
	if c.OAuth.CodeTTL <= 0 || c.OAuth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("oauth.code_ttl and oauth.access_token_ttl must be positive"))
	}
	if c.OAuth.PurgeInterval <= 0 || c.RepoAuth.SweepInterval <= 0 {
		errs = append(errs, errors.New("oauth.purge_interval and repoauth.sweep_interval must be positive"))
	}

	seen := make(map[string]bool, len(c.OAuth.Clients))
	for i, client := range c.OAuth.Clients {
		switch {
		case client.ClientID == "":
			errs = append(errs, fmt.Errorf("oauth.clients[%d]: client_id is required", i))
		case seen[client.ClientID]:
			errs = append(errs, fmt.Errorf("oauth.clients[%d]: duplicate client_id %q", i, client.ClientID))
		case client.ClientSecret == "" || client.RedirectURI == "":
			errs = append(errs, fmt.Errorf("oauth.clients[%d]: client_secret and redirect_uri are required", i))
		}
		seen[client.ClientID] = true
	}

	for i, p := range c.RepoAuth.Providers {
		if p.Name == "" || p.ID == "" {
			errs = append(errs, fmt.Errorf("repoauth.providers[%d]: name and id are required", i))
			continue
		}
		if p.ClientID == "" || p.AuthorizeURL == "" || p.TokenURL == "" {
			errs = append(errs, fmt.Errorf("repoauth.providers[%d] (%s/%s): client_id, authorize_url and token_url are required", i, p.Name, p.ID))
		}
	}

	switch c.Cache.Type {
	case "", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported cache.type %q", c.Cache.Type))
	}

	return errors.Join(errs...)
}
