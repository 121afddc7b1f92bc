package models

import "time"

// RepoSession tracks one delegated authorization against an external
// repository provider. Times are epoch seconds.
type RepoSession struct {
	ID           int64   `json:"id" db:"id"`
	User         string  `json:"user" db:"user"`
	ProviderName string  `json:"provider_name" db:"provider_name"`
	ProviderID   string  `json:"provider_id" db:"provider_id"`
	Token        *string `json:"-" db:"token"`
	State        string  `json:"-" db:"state"`
	Acquired     *int64  `json:"acquired,omitempty" db:"acquired"`
	Expires      *int64  `json:"expires,omitempty" db:"expires"`
	Spec         string  `json:"spec" db:"spec"`
	Created      int64   `json:"created" db:"created"`
}

// HasToken reports whether the provider token has been stored.
func (s *RepoSession) HasToken() bool {
	return s.Token != nil && *s.Token != ""
}

// TokenExpired reports whether the stored token is past its expiry at now.
func (s *RepoSession) TokenExpired(now time.Time) bool {
	return s.Expires != nil && *s.Expires < now.Unix()
}
