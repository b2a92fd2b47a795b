package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken indicates an access token that failed structural or
	// signature verification, or whose embedded expiry has passed.
	ErrMalformedToken = errors.New("malformed token")

	// ErrInvalidToken indicates a token with a live store record that
	// nevertheless failed signature verification. Logged distinctly from
	// not-found for security auditing.
	ErrInvalidToken = errors.New("invalid token")

	// ErrWrongTokenType indicates a refresh operation invoked with a token
	// that is not a refresh token.
	ErrWrongTokenType = errors.New("wrong token type")
)

// Claims is the signed claim set embedded in access tokens.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Email returns the token subject.
func (c Claims) Email() string { return c.Subject }

// signAccessToken encodes and signs an access token claim set.
func signAccessToken(key []byte, email string, roles []string, issuedAt time.Time, ttl time.Duration) (string, error) {
	if roles == nil {
		roles = []string{}
	}
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// parseAccessToken verifies the signature and structure of an access token
// and returns its claims. Every failure mode (bad signature, wrong
// algorithm, expired, garbage input) maps to ErrMalformedToken; the
// underlying cause is preserved for logging via errors.Unwrap.
func parseAccessToken(key []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrMalformedToken
	}
	return claims, nil
}
