package oauthserver

import "strings"

// NoReferer stands in for a missing Referer header.
const NoReferer = "no referer"

// CheckOrigin guards the authorization confirmation POST. The scheme of the
// Referer is compared with the scheme of the request URL, and the rest of
// the two URLs must match exactly. A scheme mismatch alone is only fatal
// when the request itself is https.
func CheckOrigin(referer, fullURL string) error {
	if referer == "" {
		referer = NoReferer
	}
	refererProto, strippedReferer := splitScheme(referer)
	requestProto, strippedURL := splitScheme(fullURL)

	if refererProto != requestProto && requestProto == "https" {
		return &OriginMismatchError{
			Message: "Not allowing authorization form submitted from insecure page",
			Referer: referer,
			URL:     fullURL,
		}
	}
	if strippedReferer != strippedURL {
		return &OriginMismatchError{
			Message: "Authorization form must be sent from authorization page",
			Referer: referer,
			URL:     fullURL,
		}
	}
	return nil
}

// ProtocolMismatch reports whether the two URLs use different schemes.
func ProtocolMismatch(referer, fullURL string) bool {
	refererProto, _ := splitScheme(referer)
	requestProto, _ := splitScheme(fullURL)
	return refererProto != requestProto
}

func splitScheme(raw string) (string, string) {
	proto, rest, found := strings.Cut(raw, "://")
	if !found {
		return strings.ToLower(raw), ""
	}
	return strings.ToLower(proto), rest
}
