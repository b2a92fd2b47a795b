package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// refreshTokenBytes is the entropy of a refresh token (36 bytes = 288 bits,
// 48 characters once base64url-encoded).
const refreshTokenBytes = 36

// newOpaqueToken generates a cryptographically random refresh token. The
// result carries no structure and is meaningful only as a store lookup key.
func newOpaqueToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
