package token

import (
	"github.com/google/uuid"
)

// SecureTokenLength is the length of a canonical UUID string.
const SecureTokenLength = 36

// GenerateSecureToken returns a random version 4 UUID in canonical form.
// uuid draws from crypto/rand, so no two calls are correlated.
func GenerateSecureToken() Token {
	return uuid.New().String()
}

// IsSecureToken reports whether s has the exact shape GenerateSecureToken
// produces: lowercase 8-4-4-4-12 hex, version 4, RFC 4122 variant.
func IsSecureToken(s string) bool {
	if len(s) != SecureTokenLength {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && id.Variant() == uuid.RFC4122 && id.String() == s
}
