// Package token implements the authentication token lifecycle: issuance,
// validation, refresh rotation, and revocation.
//
// # Token kinds
//
// Access tokens are HS256-signed JWTs carrying the subject email, role
// names, and issued-at/expiry claims. They are self-describing but still
// store-backed: validation requires both a live store record AND a valid
// signature, so a validly-signed token that has been revoked is rejected
// by the store lookup before the signature is ever checked.
//
// Refresh tokens are opaque random strings with no embedded structure;
// they are pure lookup keys into the token store.
//
// # Refresh rotation
//
// Refresh exchanges a live refresh token for a brand-new access/refresh
// pair, revoking every prior token for the owner first. A replayed refresh
// token therefore fails with store.ErrNotFound. Concurrent refresh calls
// on the same token are serialized per token value so at most one wins.
//
// # Error taxonomy
//
// store.ErrNotFound, store.ErrUnavailable, ErrMalformedToken,
// ErrInvalidToken and ErrWrongTokenType are sentinel values; callers
// branch with errors.Is. Unavailability is never reported as not-found.
package token
