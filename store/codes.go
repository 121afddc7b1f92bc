package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"binder-oauth/models"
	"binder-oauth/tokens"

	"github.com/mattn/go-sqlite3"
)

const codeColumns = `id, code, client_id, expires_at, redirect_uri, session_id, user_id, scopes, consumed_at`

// CodeParams describes an authorization code to issue.
type CodeParams struct {
	ClientID    string
	UserID      string
	SessionID   string
	RedirectURI string
	Scopes      []string
	TTL         time.Duration // zero means the code never expires
}

// IssueCode stores a new authorization code and returns it.
func (s *Store) IssueCode(ctx context.Context, p CodeParams) (string, error) {
	code, err := tokens.New()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO oauth_codes (client_id, code, expires_at, redirect_uri, session_id, user_id, scopes) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ClientID, code, s.expiry(p.TTL), p.RedirectURI, p.SessionID, p.UserID, strings.Join(p.Scopes, " "))
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return "", ErrClientNotFound
		}
		return "", fmt.Errorf("issue code: %w", err)
	}
	s.metrics.CodeIssued(p.ClientID)
	return code, nil
}

// FindCode returns a code that is neither expired nor consumed.
func (s *Store) FindCode(ctx context.Context, code string) (*models.OAuthCode, error) {
	var record models.OAuthCode
	err := s.db.GetContext(ctx, &record,
		`SELECT `+codeColumns+` FROM oauth_codes
		WHERE code = ? AND consumed_at IS NULL AND (expires_at IS NULL OR expires_at >= ?)
		LIMIT 1`,
		code, s.now().Unix())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find code: %w", err)
	}
	return &record, nil
}

// ConsumeCode redeems a code. Of any number of concurrent callers for the
// same code exactly one succeeds; the others get ErrCodeAlreadyConsumed.
// Missing and expired codes yield ErrCodeNotFound.
func (s *Store) ConsumeCode(ctx context.Context, code string) (*models.OAuthCode, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("consume code: %w", err)
	}
	defer tx.Rollback()

	var record models.OAuthCode
	err = tx.GetContext(ctx, &record, `SELECT `+codeColumns+` FROM oauth_codes WHERE code = ? ORDER BY id LIMIT 1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume code: %w", err)
	}
	if record.ConsumedAt != nil {
		return nil, ErrCodeAlreadyConsumed
	}
	now := s.now().Unix()
	if record.ExpiresAt != nil && *record.ExpiresAt < now {
		return nil, ErrCodeNotFound
	}

	// the conditional update is the linearization point
	res, err := tx.ExecContext(ctx, `UPDATE oauth_codes SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`, now, record.ID)
	if err != nil {
		return nil, fmt.Errorf("consume code: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, ErrCodeAlreadyConsumed
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("consume code: %w", err)
	}
	record.ConsumedAt = &now
	return &record, nil
}
