package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"binder-oauth/models"
	"binder-oauth/tokens"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const clientColumns = `id, identifier, secret, description, redirect_uri, created_at`

// CreateClient registers a new client. The secret is stored hashed.
func (s *Store) CreateClient(ctx context.Context, identifier, secret, redirectURI, description string) (*models.OAuthClient, error) {
	hashed, err := s.secretHasher.Hash(secret)
	if err != nil {
		return nil, err
	}
	client := &models.OAuthClient{
		Identifier:  identifier,
		Secret:      hashed,
		Description: description,
		RedirectURI: redirectURI,
		CreatedAt:   s.now().UTC(),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_clients (identifier, secret, description, redirect_uri, created_at) VALUES (?, ?, ?, ?, ?)`,
		client.Identifier, client.Secret, client.Description, client.RedirectURI, client.CreatedAt)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey) {
			return nil, ErrDuplicateIdentifier
		}
		return nil, fmt.Errorf("create client %s: %w", identifier, err)
	}
	if client.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("create client %s: %w", identifier, err)
	}

	s.logger.Info("OAuth client created", zap.String("client_id", identifier))
	return client, nil
}

// UpdateClient replaces the secret, redirect URI and description of a client.
func (s *Store) UpdateClient(ctx context.Context, identifier, secret, redirectURI, description string) error {
	hashed, err := s.secretHasher.Hash(secret)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE oauth_clients SET secret = ?, redirect_uri = ?, description = ? WHERE identifier = ?`,
		hashed, redirectURI, description, identifier)
	if err != nil {
		return fmt.Errorf("update client %s: %w", identifier, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClientNotFound
	}
	return nil
}

// SyncClient makes the stored client match the given values, creating it
// when missing. The secret is only rehashed when it changed.
func (s *Store) SyncClient(ctx context.Context, identifier, secret, redirectURI, description string) error {
	client, err := s.GetClient(ctx, identifier)
	if errors.Is(err, ErrClientNotFound) {
		_, err = s.CreateClient(ctx, identifier, secret, redirectURI, description)
		return err
	}
	if err != nil {
		return err
	}
	if client.RedirectURI == redirectURI && client.Description == description && s.VerifyClientSecret(client, secret) {
		return nil
	}
	return s.UpdateClient(ctx, identifier, secret, redirectURI, description)
}

// GetClient returns the client registered under identifier.
func (s *Store) GetClient(ctx context.Context, identifier string) (*models.OAuthClient, error) {
	var client models.OAuthClient
	err := s.db.GetContext(ctx, &client, `SELECT `+clientColumns+` FROM oauth_clients WHERE identifier = ?`, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client %s: %w", identifier, err)
	}
	return &client, nil
}

// ListClients returns all registered clients ordered by identifier.
func (s *Store) ListClients(ctx context.Context) ([]models.OAuthClient, error) {
	clients := []models.OAuthClient{}
	if err := s.db.SelectContext(ctx, &clients, `SELECT `+clientColumns+` FROM oauth_clients ORDER BY identifier`); err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return clients, nil
}

// VerifyClientSecret checks secret against the stored hash.
func (s *Store) VerifyClientSecret(client *models.OAuthClient, secret string) bool {
	return tokens.Verify(client.Secret, secret)
}

// DeleteClient removes a client together with all of its codes and tokens.
func (s *Store) DeleteClient(ctx context.Context, identifier string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete client %s: %w", identifier, err)
	}
	defer tx.Rollback()

	tokensDeleted, err := tx.ExecContext(ctx, `DELETE FROM oauth_access_tokens WHERE client_id = ?`, identifier)
	if err != nil {
		return fmt.Errorf("delete client %s tokens: %w", identifier, err)
	}
	codesDeleted, err := tx.ExecContext(ctx, `DELETE FROM oauth_codes WHERE client_id = ?`, identifier)
	if err != nil {
		return fmt.Errorf("delete client %s codes: %w", identifier, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM oauth_clients WHERE identifier = ?`, identifier)
	if err != nil {
		return fmt.Errorf("delete client %s: %w", identifier, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClientNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete client %s: %w", identifier, err)
	}

	nTokens, _ := tokensDeleted.RowsAffected()
	nCodes, _ := codesDeleted.RowsAffected()
	s.logger.Info("OAuth client deleted",
		zap.String("client_id", identifier),
		zap.Int64("tokens", nTokens),
		zap.Int64("codes", nCodes))
	return nil
}
