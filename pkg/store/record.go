package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested record does not exist: it was
	// never stored, already revoked, or evicted by TTL.
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable indicates the backing store could not be reached or
	// timed out. Callers must not treat this as a missing record.
	ErrUnavailable = errors.New("store unavailable")
)

// Kind identifies the type of a token record.
type Kind string

const (
	// KindAccess is a signed JWT access token.
	KindAccess Kind = "access"
	// KindRefresh is an opaque refresh token.
	KindRefresh Kind = "refresh"
)

// TokenRecord is one stored authentication token.
type TokenRecord struct {
	Token     string    `json:"token"`
	Kind      Kind      `json:"kind"`
	Email     string    `json:"email"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TTL returns the remaining time-to-live of the record relative to now.
func (r TokenRecord) TTL(now time.Time) time.Duration {
	return r.ExpiresAt.Sub(now)
}

// PasswordResetRecord is a one-shot password reset token.
type PasswordResetRecord struct {
	Token     string    `json:"token"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewPasswordResetRecord mints a reset record with a random opaque token
// and the given lifetime.
func NewPasswordResetRecord(userID uuid.UUID, ttl time.Duration) (PasswordResetRecord, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return PasswordResetRecord{}, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return PasswordResetRecord{
		Token:     base64.RawURLEncoding.EncodeToString(raw),
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// ExpiredKind discriminates the variants of ExpiredRecord.
type ExpiredKind int

const (
	// ExpiredToken means an access or refresh token record expired.
	ExpiredToken ExpiredKind = iota
	// ExpiredPasswordReset means a password reset record expired.
	ExpiredPasswordReset
)

// ExpiredRecord is the payload of a TTL-eviction notification. Exactly one
// of the variant fields is set, selected by Kind; consumers dispatch with a
// switch over Kind rather than type inspection.
type ExpiredRecord struct {
	Kind          ExpiredKind
	Token         *TokenRecord
	PasswordReset *PasswordResetRecord
}

// ExpiryFunc receives TTL-eviction notifications.
type ExpiryFunc func(ExpiredRecord)
