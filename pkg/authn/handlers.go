package authn

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/beaconhq/beacon/pkg/httputil"
	"github.com/beaconhq/beacon/pkg/observability"
	"github.com/beaconhq/beacon/pkg/store"
	"github.com/beaconhq/beacon/pkg/token"
)

// Handlers exposes the authentication flows over HTTP.
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers creates the authentication HTTP handlers.
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// RegisterRoutes registers the authentication routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/register", h.register).Methods("POST")
	router.HandleFunc("/auth/login", h.login).Methods("POST")
	router.HandleFunc("/auth/refresh", h.refresh).Methods("POST")
	router.HandleFunc("/auth/logout", h.logout).Methods("POST")
	router.HandleFunc("/auth/forgot-password", h.forgotPassword).Methods("POST")
	router.HandleFunc("/auth/reset-password/{token}", h.resetPassword).Methods("POST")
	router.HandleFunc("/user/me", h.me).Methods("GET")
}

type tokenPairResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

func newTokenPairResponse(pair *token.Pair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(pair.AccessExpiresIn.Seconds()),
		RefreshExpiresIn: int64(pair.RefreshExpiresIn.Seconds()),
	}
}

// register handles POST /auth/register
func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		httputil.WriteBadRequest(w, "a valid email is required")
		return
	}
	if len(req.Password) < 8 {
		httputil.WriteBadRequest(w, "password must be at least 8 characters")
		return
	}

	user, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			httputil.WriteErrorMessage(w, http.StatusConflict, "email already registered")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// login handles POST /auth/login
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	_, pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	httputil.WriteSuccess(w, newTokenPairResponse(pair))
}

// refresh handles POST /auth/refresh
func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, token.ErrWrongTokenType) {
			httputil.WriteBadRequest(w, "not a refresh token")
			return
		}
		h.writeAuthError(w, err)
		return
	}
	httputil.WriteSuccess(w, newTokenPairResponse(pair))
}

// logout handles POST /auth/logout
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	accessToken := httputil.BearerToken(r)
	if accessToken == "" {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), accessToken); err != nil {
		h.writeAuthError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// forgotPassword handles POST /auth/forgot-password
func (h *Handlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	resetToken, err := h.service.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Same response for unknown accounts so emails cannot be probed.
			httputil.WriteSuccess(w, map[string]string{"status": "ok"})
			return
		}
		if errors.Is(err, store.ErrUnavailable) {
			httputil.WriteServiceUnavailable(w, "service temporarily unavailable")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	// No mail delivery is wired, so the token comes back in the body.
	httputil.WriteSuccess(w, map[string]string{"status": "ok", "reset_token": resetToken})
}

// resetPassword handles POST /auth/reset-password/{token}
func (h *Handlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	resetToken := mux.Vars(r)["token"]

	var req struct {
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Password) < 8 {
		httputil.WriteBadRequest(w, "password must be at least 8 characters")
		return
	}

	if err := h.service.ResetPassword(r.Context(), resetToken, req.Password); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteNotFoundError(w, "reset token is invalid or expired")
			return
		}
		if errors.Is(err, store.ErrUnavailable) {
			httputil.WriteServiceUnavailable(w, "service temporarily unavailable")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// me handles GET /user/me. The authorization middleware has already
// validated the token and stashed the identity in the request context.
func (h *Handlers) me(w http.ResponseWriter, r *http.Request) {
	email := observability.GetIdentity(r.Context())
	if email == "" {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	user, err := h.service.Me(r.Context(), email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			httputil.WriteNotFoundError(w, "user not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// writeAuthError maps service errors to HTTP responses. Authentication
// failures collapse to a generic 401 regardless of cause; store outages
// surface as 503 so clients can retry.
func (h *Handlers) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrUnavailable):
		httputil.WriteServiceUnavailable(w, "service temporarily unavailable")
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, token.ErrMalformedToken),
		errors.Is(err, token.ErrInvalidToken):
		h.logger.WithError(err).Debug("Authentication rejected")
		httputil.WriteUnauthorized(w, "authentication required")
	default:
		httputil.WriteInternalError(w, err)
	}
}
