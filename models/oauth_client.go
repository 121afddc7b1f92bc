package models

import "time"

// OAuthClient is a registered OAuth client of the authorization server.
// Secret holds a salted hash, never the plaintext.
type OAuthClient struct {
	ID          int64     `json:"id" db:"id"`
	Identifier  string    `json:"client_id" db:"identifier"`
	Secret      string    `json:"-" db:"secret"`
	Description string    `json:"description" db:"description"`
	RedirectURI string    `json:"redirect_uri" db:"redirect_uri"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// CreateOAuthClientRequest is the admin API body for registering a client.
type CreateOAuthClientRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"` // generated when empty
	RedirectURI  string `json:"redirect_uri"`
	Description  string `json:"description,omitempty"`
}

// CreateOAuthClientResponse returns the client secret exactly once.
type CreateOAuthClientResponse struct {
	OAuthClient
	ClientSecret string `json:"client_secret"`
}
