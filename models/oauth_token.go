package models

import (
	"strings"
	"time"
)

// GrantType is the grant through which an access token was issued.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// OAuthCode is a short-lived authorization code. Times are epoch seconds.
type OAuthCode struct {
	ID          int64  `json:"id" db:"id"`
	Code        string `json:"-" db:"code"`
	ClientID    string `json:"client_id" db:"client_id"`
	ExpiresAt   *int64 `json:"expires_at,omitempty" db:"expires_at"`
	RedirectURI string `json:"redirect_uri" db:"redirect_uri"`
	SessionID   string `json:"session_id" db:"session_id"`
	UserID      string `json:"user_id" db:"user_id"`
	Scopes      string `json:"scopes" db:"scopes"`
	ConsumedAt  *int64 `json:"consumed_at,omitempty" db:"consumed_at"`
}

// ScopeList splits the stored scopes.
func (c *OAuthCode) ScopeList() []string {
	return strings.Fields(c.Scopes)
}

// OAuthAccessToken is an issued access token with its optional refresh token.
// Only prefixes and salted hashes of both secrets are stored.
type OAuthAccessToken struct {
	ID               int64      `json:"id" db:"id"`
	Hashed           string     `json:"-" db:"hashed"`
	Prefix           string     `json:"prefix" db:"prefix"`
	ClientID         *string    `json:"client_id,omitempty" db:"client_id"`
	GrantType        GrantType  `json:"grant_type" db:"grant_type"`
	ExpiresAt        *int64     `json:"expires_at,omitempty" db:"expires_at"`
	RefreshToken     *string    `json:"-" db:"refresh_token"`
	RefreshPrefix    *string    `json:"-" db:"refresh_prefix"`
	RefreshExpiresAt *int64     `json:"refresh_expires_at,omitempty" db:"refresh_expires_at"`
	UserID           string     `json:"user_id" db:"user_id"`
	SessionID        string     `json:"session_id" db:"session_id"`
	Scopes           string     `json:"scopes" db:"scopes"`
	Created          time.Time  `json:"created" db:"created"`
	LastActivity     *time.Time `json:"last_activity,omitempty" db:"last_activity"`
}

// Expired reports whether the access token has expired at now.
func (t *OAuthAccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && *t.ExpiresAt < now.Unix()
}

// ScopeList splits the stored scopes.
func (t *OAuthAccessToken) ScopeList() []string {
	return strings.Fields(t.Scopes)
}

// TokenRequest is the POST /api/oauth2/token body.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// TokenResponse is the standard OAuth2 token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// TokenErrorResponse is the standard OAuth2 error body.
type TokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
