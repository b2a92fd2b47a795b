// Package authn implements the authentication API: registration, login,
// token refresh, logout, and password reset.
//
// It owns the SQLite-backed user store and orchestrates the token manager
// and presence hub: a successful login yields an access/refresh token
// pair, logout revokes every token for the principal and drops any live
// realtime connection, and a password reset invalidates all outstanding
// tokens.
//
// Credential verification failures (unknown email, wrong password) are
// collapsed into one ErrInvalidCredentials so responses cannot be used to
// probe which emails are registered.
package authn
