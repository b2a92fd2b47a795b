package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beaconhq/beacon/pkg/observability"
	"github.com/beaconhq/beacon/pkg/presence"
	"github.com/beaconhq/beacon/pkg/store"
	"github.com/beaconhq/beacon/pkg/token"
)

// Service implements the authentication flows on top of the user store,
// the token manager and the presence hub.
type Service struct {
	users    *UserStore
	tokens   *token.Manager
	hub      *presence.Hub
	records  store.Store
	resetTTL time.Duration
	logger   *observability.Logger
}

// NewService wires the authentication service. resetTTL bounds the
// lifetime of password reset tokens.
func NewService(users *UserStore, tokens *token.Manager, hub *presence.Hub, records store.Store, resetTTL time.Duration, logger *observability.Logger) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		hub:      hub,
		records:  records,
		resetTTL: resetTTL,
		logger:   logger,
	}
}

// Register creates a new account. The caller still has to log in to
// obtain tokens.
func (s *Service) Register(ctx context.Context, name, email, password string) (*User, error) {
	user, err := s.users.Create(ctx, name, email, password)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]interface{}{
		"identity": user.Email,
		"user_id":  user.ID.String(),
	}).Info("User registered")
	return user, nil
}

// Login verifies the credentials and issues a fresh access/refresh pair.
// Unknown emails and wrong passwords both come back as
// ErrInvalidCredentials so callers cannot probe for accounts.
func (s *Service) Login(ctx context.Context, email, password string) (*User, *token.Pair, error) {
	user, err := s.users.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if !user.VerifyPassword(password) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(ctx, user.Email, user.Roles)
	if err != nil {
		return nil, nil, err
	}
	s.logger.WithField("identity", user.Email).Info("User logged in")
	return user, pair, nil
}

// Refresh trades a refresh token for a new pair. All previously issued
// tokens for the identity are revoked first.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	return s.tokens.Refresh(ctx, refreshToken)
}

// Logout revokes every token for the identity behind accessToken and
// drops its live presence session if one exists.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	email, err := s.tokens.DecodeEmail(accessToken)
	if err != nil {
		return err
	}
	if err := s.tokens.RevokeAllForEmail(ctx, email); err != nil {
		return err
	}
	s.hub.Drop(email)
	s.logger.WithField("identity", email).Info("User logged out")
	return nil
}

// ForgotPassword creates a time-bounded reset record for the account.
// There is no mail delivery here, so the token is returned to the
// caller; the transport layer decides how to hand it out.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	user, err := s.users.ByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	rec, err := store.NewPasswordResetRecord(user.ID, s.resetTTL)
	if err != nil {
		return "", fmt.Errorf("failed to mint reset record: %w", err)
	}
	if err := s.records.PutPasswordReset(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to persist reset record: %w", err)
	}
	s.logger.WithField("identity", user.Email).Info("Password reset requested")
	return rec.Token, nil
}

// ResetPassword consumes a reset token, replaces the password and
// revokes all outstanding tokens for the account.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	rec, err := s.records.GetPasswordReset(ctx, resetToken)
	if err != nil {
		return err
	}

	user, err := s.users.ByID(ctx, rec.UserID)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, newPassword); err != nil {
		return err
	}
	if err := s.records.DeletePasswordReset(ctx, resetToken); err != nil {
		s.logger.WithError(err).Warn("Failed to delete consumed reset record")
	}
	if err := s.tokens.RevokeAllForEmail(ctx, user.Email); err != nil {
		s.logger.WithError(err).WithField("identity", user.Email).Warn("Failed to revoke tokens after password reset")
	}
	s.hub.Drop(user.Email)
	s.logger.WithField("identity", user.Email).Info("Password reset completed")
	return nil
}

// Me resolves the account behind a validated access token.
func (s *Service) Me(ctx context.Context, email string) (*User, error) {
	return s.users.ByEmail(ctx, email)
}
