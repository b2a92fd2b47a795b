package store

import "context"

// Store is expiring key-value storage for token and password reset records.
type Store interface {
	// Put inserts or overwrites a token record, resetting its TTL countdown
	// to the record's remaining lifetime.
	Put(ctx context.Context, rec TokenRecord) error

	// Get returns the record stored under token, or ErrNotFound when the
	// record is absent or past its TTL.
	Get(ctx context.Context, token string) (*TokenRecord, error)

	// FindAllByEmail returns every live token record owned by email.
	FindAllByEmail(ctx context.Context, email string) ([]TokenRecord, error)

	// DeleteAll removes the given records in one bulk operation. Records
	// that already disappeared mid-flight are not an error.
	DeleteAll(ctx context.Context, recs []TokenRecord) error

	// PutPasswordReset stores a password reset record with its own TTL.
	PutPasswordReset(ctx context.Context, rec PasswordResetRecord) error

	// GetPasswordReset returns the reset record for token, or ErrNotFound.
	GetPasswordReset(ctx context.Context, token string) (*PasswordResetRecord, error)

	// DeletePasswordReset removes a reset record after use.
	DeletePasswordReset(ctx context.Context, token string) error

	// OnExpired registers a subscriber for TTL-eviction notifications.
	// Subscribers must be registered before records of interest expire;
	// callbacks are invoked from the store's eviction goroutine.
	OnExpired(fn ExpiryFunc)
}
