package authz

import (
	"context"
	"errors"
	"net/http"

	"github.com/beaconhq/beacon/pkg/httputil"
	"github.com/beaconhq/beacon/pkg/observability"
	"github.com/beaconhq/beacon/pkg/store"
	"github.com/beaconhq/beacon/pkg/token"
)

type contextKey string

// rolesKey carries the authenticated principal's role names.
const rolesKey contextKey = "roles"

// RolesFromContext returns the role names attached by Middleware, or nil
// on an unauthenticated request.
func RolesFromContext(ctx context.Context) []string {
	if roles, ok := ctx.Value(rolesKey).([]string); ok {
		return roles
	}
	return nil
}

// Middleware enforces the route table. Requests to protected routes must
// carry a bearer access token that passes the double check (store record
// present and signature valid); the decoded identity and roles are placed
// in the request context for downstream handlers.
//
// Authentication failures all surface as one generic unauthorized
// response: the caller learns nothing about whether the token was
// expired, revoked, or malformed. Store unavailability is reported
// separately as 503 so clients can retry instead of re-authenticating.
func Middleware(table *Table, tokens *token.Manager, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule := table.Lookup(r.Method, r.URL.Path)
			if rule == nil {
				next.ServeHTTP(w, r)
				return
			}

			bearer := httputil.BearerToken(r)
			if bearer == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			rec, err := tokens.Validate(r.Context(), bearer)
			if err != nil {
				if errors.Is(err, store.ErrUnavailable) {
					logger.WithError(err).Error("Token store unavailable during authorization")
					httputil.WriteServiceUnavailable(w, "temporarily unable to verify credentials")
					return
				}
				// Malformed and revoked tokens are logged distinctly for
				// auditing but answered identically.
				if errors.Is(err, token.ErrInvalidToken) {
					logger.WithError(err).Warn("Signature failure on stored token")
				}
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if rec.Kind != store.KindAccess {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			claims, err := tokens.DecodeClaims(bearer)
			if err != nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !rule.Allowed(claims.Roles) {
				httputil.WriteForbidden(w, "insufficient role")
				return
			}

			ctx := observability.WithIdentity(r.Context(), rec.Email)
			ctx = context.WithValue(ctx, rolesKey, claims.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
