package repoauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"binder-oauth/database"
	"binder-oauth/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrUnknownState    = errors.New("unknown repository authorization state")
	ErrNoCachedToken   = errors.New("no cached repository token")
	ErrUnknownProvider = errors.New("unknown repository provider")
)

// Schema holds the repo_session table.
var Schema = database.Schema{
	Name: "repoauth",
	Statements: []string{
		`CREATE TABLE IF NOT EXISTS repo_session (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user TEXT NOT NULL,
			provider_name TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			token TEXT,
			state TEXT NOT NULL UNIQUE,
			acquired INTEGER,
			expires INTEGER,
			spec TEXT NOT NULL,
			created INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ix_repo_session_lookup ON repo_session (user, provider_name, provider_id)`,
	},
}

const sessionColumns = `id, user, provider_name, provider_id, token, state, acquired, expires, spec, created`

// SessionStore persists RepoSession rows.
type SessionStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSessionStore applies schema to db and returns a SessionStore on it.
func NewSessionStore(db *sqlx.DB, schema database.Schema) (*SessionStore, error) {
	if err := schema.Apply(db); err != nil {
		return nil, err
	}
	return &SessionStore{db: db, now: time.Now}, nil
}

// Ping checks the database connection.
func (s *SessionStore) Ping() error {
	return s.db.Ping()
}

// NewSession records an authorization about to be started and returns its
// correlation state.
func (s *SessionStore) NewSession(ctx context.Context, user, providerName, providerID, spec string) (string, error) {
	state := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repo_session (user, provider_name, provider_id, state, spec, created) VALUES (?, ?, ?, ?, ?, ?)`,
		user, providerName, providerID, state, spec, s.now().Unix())
	if err != nil {
		return "", fmt.Errorf("new repo session: %w", err)
	}
	return state, nil
}

// GetSession returns the session of user with the given state.
func (s *SessionStore) GetSession(ctx context.Context, user, state string) (*models.RepoSession, error) {
	var session models.RepoSession
	err := s.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM repo_session WHERE user = ? AND state = ?`, user, state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownState
	}
	if err != nil {
		return nil, fmt.Errorf("get repo session: %w", err)
	}
	return &session, nil
}

// RegisterToken stores the provider token on a session unless one is
// already stored. It returns the session as stored and whether this call
// set the token. A zero expires means the token does not expire.
func (s *SessionStore) RegisterToken(ctx context.Context, user, state, token string, expires time.Time) (*models.RepoSession, bool, error) {
	var expiresAt *int64
	if !expires.IsZero() {
		at := expires.Unix()
		expiresAt = &at
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("register repo token: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE repo_session SET token = ?, acquired = ?, expires = ? WHERE user = ? AND state = ? AND token IS NULL`,
		token, s.now().Unix(), expiresAt, user, state)
	if err != nil {
		return nil, false, fmt.Errorf("register repo token: %w", err)
	}
	n, _ := res.RowsAffected()

	var session models.RepoSession
	err = tx.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM repo_session WHERE user = ? AND state = ?`, user, state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrUnknownState
	}
	if err != nil {
		return nil, false, fmt.Errorf("register repo token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("register repo token: %w", err)
	}
	return &session, n == 1, nil
}

// AccessTokenFor returns the most recently acquired unexpired token of user
// for the provider resource, with its expiry if it has one.
func (s *SessionStore) AccessTokenFor(ctx context.Context, user, providerName, providerID string) (string, *int64, error) {
	var session models.RepoSession
	err := s.db.GetContext(ctx, &session,
		`SELECT `+sessionColumns+` FROM repo_session
		WHERE user = ? AND provider_name = ? AND provider_id = ? AND token IS NOT NULL
		ORDER BY acquired DESC, id DESC LIMIT 1`,
		user, providerName, providerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrNoCachedToken
	}
	if err != nil {
		return "", nil, fmt.Errorf("repo access token: %w", err)
	}
	if !session.HasToken() || session.TokenExpired(s.now()) {
		return "", nil, ErrNoCachedToken
	}
	return *session.Token, session.Expires, nil
}

// DeleteStaleSessions removes sessions that never received a token and are
// older than ttl.
func (s *SessionStore) DeleteStaleSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM repo_session WHERE token IS NULL AND created < ?`, s.now().Add(-ttl).Unix())
	if err != nil {
		return 0, fmt.Errorf("delete stale repo sessions: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredTokens removes sessions whose token has expired.
func (s *SessionStore) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM repo_session WHERE token IS NOT NULL AND expires IS NOT NULL AND expires < ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired repo tokens: %w", err)
	}
	return res.RowsAffected()
}
