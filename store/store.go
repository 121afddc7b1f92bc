package store

import (
	"errors"
	"time"

	"binder-oauth/database"
	"binder-oauth/metrics"
	"binder-oauth/tokens"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	ErrClientNotFound        = errors.New("oauth client not found")
	ErrDuplicateIdentifier   = errors.New("oauth client identifier already registered")
	ErrCodeNotFound          = errors.New("authorization code not found")
	ErrCodeAlreadyConsumed   = errors.New("authorization code already consumed")
	ErrTokenNotFound         = errors.New("token not found")
	ErrRefreshTokenExpired   = errors.New("refresh token expired")
	ErrRefreshClientMismatch = errors.New("refresh token was issued to another client")
)

// Schema holds the oauth_clients, oauth_codes and oauth_access_tokens tables.
var Schema = database.Schema{
	Name: "oauth",
	Statements: []string{
		`CREATE TABLE IF NOT EXISTS oauth_clients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identifier VARCHAR(255) NOT NULL UNIQUE,
			secret VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			redirect_uri VARCHAR(1023) NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_codes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id VARCHAR(255) REFERENCES oauth_clients (identifier) ON DELETE CASCADE,
			code VARCHAR(64) NOT NULL,
			expires_at INTEGER,
			redirect_uri VARCHAR(1023) NOT NULL,
			session_id VARCHAR(255) NOT NULL DEFAULT '',
			user_id VARCHAR(255) NOT NULL,
			scopes TEXT NOT NULL DEFAULT '',
			consumed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS ix_oauth_codes_code ON oauth_codes (code)`,
		`CREATE TABLE IF NOT EXISTS oauth_access_tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hashed VARCHAR(255) NOT NULL UNIQUE,
			prefix VARCHAR(16) NOT NULL,
			client_id VARCHAR(255) REFERENCES oauth_clients (identifier) ON DELETE CASCADE,
			grant_type VARCHAR(32) NOT NULL,
			expires_at INTEGER,
			refresh_token VARCHAR(255),
			refresh_prefix VARCHAR(16),
			refresh_expires_at INTEGER,
			user_id VARCHAR(255) NOT NULL,
			session_id VARCHAR(255) NOT NULL DEFAULT '',
			scopes TEXT NOT NULL DEFAULT '',
			created DATETIME NOT NULL,
			last_activity DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS ix_oauth_access_tokens_prefix ON oauth_access_tokens (prefix)`,
		`CREATE INDEX IF NOT EXISTS ix_oauth_access_tokens_refresh_prefix ON oauth_access_tokens (refresh_prefix)`,
		`CREATE INDEX IF NOT EXISTS ix_oauth_access_tokens_session_id ON oauth_access_tokens (session_id)`,
	},
}

// Store persists OAuth clients, authorization codes and access tokens.
// Every exported operation runs as a single statement or a single transaction.
type Store struct {
	db      *sqlx.DB
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	tokenHasher  tokens.Hasher
	secretHasher tokens.Hasher
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics records store events on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSecretHasher overrides the hasher used for client secrets.
func WithSecretHasher(h tokens.Hasher) Option {
	return func(s *Store) { s.secretHasher = h }
}

// New applies schema to db and returns a Store on top of it.
func New(db *sqlx.DB, schema database.Schema, logger *zap.Logger, opts ...Option) (*Store, error) {
	if err := schema.Apply(db); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		db:           db,
		logger:       logger,
		now:          time.Now,
		tokenHasher:  tokens.TokenHasher,
		secretHasher: tokens.SecretHasher,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) expiry(ttl time.Duration) *int64 {
	if ttl <= 0 {
		return nil
	}
	at := s.now().Add(ttl).Unix()
	return &at
}

func isConstraint(err error, codes ...sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	for _, code := range codes {
		if sqliteErr.ExtendedCode == code {
			return true
		}
	}
	return false
}
