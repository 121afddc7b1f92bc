package oauthserver

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// OAuth2 error codes.
const (
	ErrorInvalidRequest          = "invalid_request"
	ErrorInvalidClient           = "invalid_client"
	ErrorInvalidGrant            = "invalid_grant"
	ErrorUnauthorizedClient      = "unauthorized_client"
	ErrorUnsupportedGrantType    = "unsupported_grant_type"
	ErrorUnsupportedResponseType = "unsupported_response_type"
	ErrorInvalidScope            = "invalid_scope"
	ErrorAccessDenied            = "access_denied"
	ErrorServerError             = "server_error"
)

// FatalClientError means the requesting client cannot be trusted with a
// redirect. It is shown directly to the user, or returned as the token
// endpoint error body.
type FatalClientError struct {
	Status      int
	Code        string
	Description string
}

func (e *FatalClientError) Error() string {
	return fmt.Sprintf("(%s) %s", e.Code, e.Description)
}

func fatal(status int, code, description string) *FatalClientError {
	return &FatalClientError{Status: status, Code: code, Description: description}
}

// OAuth2Error is a recoverable error delivered to the client by redirecting
// to its verified redirect URI.
type OAuth2Error struct {
	Code        string
	Description string
	RedirectURI string
	State       string
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("(%s) %s", e.Code, e.Description)
}

// InURI returns the redirect URI with error, error_description and state
// added to its query.
func (e *OAuth2Error) InURI() string {
	params := url.Values{}
	params.Set("error", e.Code)
	if e.Description != "" {
		params.Set("error_description", e.Description)
	}
	if e.State != "" {
		params.Set("state", e.State)
	}
	return appendQuery(e.RedirectURI, params)
}

// OriginMismatchError rejects an authorization form submitted from
// somewhere other than the authorization page itself.
type OriginMismatchError struct {
	Message string
	Referer string
	URL     string
}

func (e *OriginMismatchError) Error() string {
	return e.Message
}

// Status is always 403.
func (e *OriginMismatchError) Status() int {
	return http.StatusForbidden
}

func appendQuery(rawURL string, params url.Values) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		return rawURL + sep + params.Encode()
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
