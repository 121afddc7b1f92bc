package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"binder-oauth/models"
	"binder-oauth/tokens"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const tokenColumns = `id, hashed, prefix, client_id, grant_type, expires_at, refresh_token, refresh_prefix,
	refresh_expires_at, user_id, session_id, scopes, created, last_activity`

// TokenParams describes an access token to issue.
type TokenParams struct {
	ClientID  string
	UserID    string
	SessionID string
	GrantType models.GrantType
	Scopes    []string
	TTL       time.Duration // zero means the token never expires

	// Refresh pairs a refresh token with the access token.
	Refresh    bool
	RefreshTTL time.Duration
}

// IssuedToken carries the plaintext secrets of a freshly issued token.
// They are never stored and cannot be recovered later.
type IssuedToken struct {
	AccessToken  string
	RefreshToken string
	Record       *models.OAuthAccessToken
}

// IssueAccessToken stores a new access token, and optionally its refresh token.
func (s *Store) IssueAccessToken(ctx context.Context, p TokenParams) (*IssuedToken, error) {
	issued, err := s.insertAccessToken(ctx, s.db, p)
	if err != nil {
		return nil, err
	}
	s.metrics.TokenIssued(string(p.GrantType))
	return issued, nil
}

func (s *Store) insertAccessToken(ctx context.Context, ext sqlx.ExtContext, p TokenParams) (*IssuedToken, error) {
	access, err := s.tokenHasher.Issue()
	if err != nil {
		return nil, err
	}
	clientID := p.ClientID
	record := &models.OAuthAccessToken{
		Hashed:    access.Hashed,
		Prefix:    access.Prefix,
		ClientID:  &clientID,
		GrantType: p.GrantType,
		ExpiresAt: s.expiry(p.TTL),
		UserID:    p.UserID,
		SessionID: p.SessionID,
		Scopes:    strings.Join(p.Scopes, " "),
		Created:   s.now().UTC(),
	}
	issued := &IssuedToken{AccessToken: access.Plaintext, Record: record}

	if p.Refresh {
		refresh, err := s.tokenHasher.Issue()
		if err != nil {
			return nil, err
		}
		record.RefreshToken = &refresh.Hashed
		record.RefreshPrefix = &refresh.Prefix
		record.RefreshExpiresAt = s.expiry(p.RefreshTTL)
		issued.RefreshToken = refresh.Plaintext
	}

	res, err := ext.ExecContext(ctx,
		`INSERT INTO oauth_access_tokens (hashed, prefix, client_id, grant_type, expires_at, refresh_token, refresh_prefix,
			refresh_expires_at, user_id, session_id, scopes, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Hashed, record.Prefix, record.ClientID, record.GrantType, record.ExpiresAt, record.RefreshToken,
		record.RefreshPrefix, record.RefreshExpiresAt, record.UserID, record.SessionID, record.Scopes, record.Created)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	if record.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return issued, nil
}

// FindAccessToken returns the record matching the presented plaintext token.
// A matching record whose client is gone is deleted and reported as
// ErrTokenNotFound. Expiry is left to the caller.
func (s *Store) FindAccessToken(ctx context.Context, token string) (*models.OAuthAccessToken, error) {
	var candidates []models.OAuthAccessToken
	if err := s.db.SelectContext(ctx, &candidates,
		`SELECT `+tokenColumns+` FROM oauth_access_tokens WHERE prefix = ?`, tokens.Prefix(token)); err != nil {
		return nil, fmt.Errorf("find access token: %w", err)
	}

	for i := range candidates {
		record := &candidates[i]
		if !tokens.Verify(record.Hashed, token) {
			continue
		}
		if record.ClientID == nil || *record.ClientID == "" {
			s.logger.Warn("Deleting access token with no client", zap.Int64("id", record.ID), zap.String("user_id", record.UserID))
			if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_access_tokens WHERE id = ?`, record.ID); err != nil {
				return nil, fmt.Errorf("delete orphaned access token: %w", err)
			}
			s.metrics.OrphanTokenDeleted()
			return nil, ErrTokenNotFound
		}
		return record, nil
	}
	return nil, ErrTokenNotFound
}

// RefreshAccessToken redeems a refresh token issued to clientID. The old
// access/refresh pair is deleted and a new pair with the same user, session
// and scopes is issued in the same transaction, so a refresh token can be
// used at most once.
func (s *Store) RefreshAccessToken(ctx context.Context, refreshToken, clientID string, ttl, refreshTTL time.Duration) (*IssuedToken, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	defer tx.Rollback()

	var candidates []models.OAuthAccessToken
	if err := tx.SelectContext(ctx, &candidates,
		`SELECT `+tokenColumns+` FROM oauth_access_tokens WHERE refresh_prefix = ?`, tokens.Prefix(refreshToken)); err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	var old *models.OAuthAccessToken
	for i := range candidates {
		if candidates[i].RefreshToken != nil && tokens.Verify(*candidates[i].RefreshToken, refreshToken) {
			old = &candidates[i]
			break
		}
	}
	if old == nil || old.ClientID == nil {
		return nil, ErrTokenNotFound
	}
	if *old.ClientID != clientID {
		return nil, ErrRefreshClientMismatch
	}
	if old.RefreshExpiresAt != nil && *old.RefreshExpiresAt < s.now().Unix() {
		return nil, ErrRefreshTokenExpired
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM oauth_access_tokens WHERE id = ?`, old.ID)
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, ErrTokenNotFound
	}

	issued, err := s.insertAccessToken(ctx, tx, TokenParams{
		ClientID:   clientID,
		UserID:     old.UserID,
		SessionID:  old.SessionID,
		GrantType:  models.GrantRefreshToken,
		Scopes:     old.ScopeList(),
		TTL:        ttl,
		Refresh:    true,
		RefreshTTL: refreshTTL,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	s.metrics.TokenIssued(string(models.GrantRefreshToken))
	return issued, nil
}

// TouchAccessToken records activity on a token.
func (s *Store) TouchAccessToken(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE oauth_access_tokens SET last_activity = ? WHERE id = ?`, s.now().UTC(), id); err != nil {
		return fmt.Errorf("touch access token: %w", err)
	}
	return nil
}

// RevokeSession deletes every code and token bound to a browser session.
func (s *Store) RevokeSession(ctx context.Context, sessionID string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("revoke session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM oauth_codes WHERE session_id = ?`, sessionID); err != nil {
		return 0, fmt.Errorf("revoke session codes: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM oauth_access_tokens WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("revoke session tokens: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("revoke session: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("Revoked session tokens", zap.String("session_id", sessionID), zap.Int64("tokens", n))
	return n, nil
}

// PurgeResult counts the rows removed by PurgeExpired.
type PurgeResult struct {
	Codes  int64
	Tokens int64
}

// PurgeExpired deletes expired or consumed codes, and access tokens that
// are expired and can no longer be refreshed.
func (s *Store) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	now := s.now().Unix()
	var result PurgeResult

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("purge expired: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM oauth_codes WHERE consumed_at IS NOT NULL OR (expires_at IS NOT NULL AND expires_at < ?)`, now)
	if err != nil {
		return result, fmt.Errorf("purge expired codes: %w", err)
	}
	result.Codes, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx,
		`DELETE FROM oauth_access_tokens
		WHERE expires_at IS NOT NULL AND expires_at < ?
		AND (refresh_token IS NULL OR (refresh_expires_at IS NOT NULL AND refresh_expires_at < ?))`, now, now)
	if err != nil {
		return result, fmt.Errorf("purge expired tokens: %w", err)
	}
	result.Tokens, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return PurgeResult{}, fmt.Errorf("purge expired: %w", err)
	}
	s.metrics.Purged("codes", result.Codes)
	s.metrics.Purged("access_tokens", result.Tokens)
	return result, nil
}
