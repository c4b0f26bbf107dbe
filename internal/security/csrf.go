package security

import "crypto/subtle"

// GenerateCSRFToken returns an independent random token for the double-submit cookie.
func GenerateCSRFToken() (string, error) {
	return randomToken(24)
}

// CSRFTokensMatch reports whether the cookie and header values are both present and byte-equal.
func CSRFTokensMatch(cookieValue, headerValue string) bool {
	if cookieValue == "" || headerValue == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieValue), []byte(headerValue)) == 1
}
