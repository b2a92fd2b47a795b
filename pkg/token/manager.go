package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/beaconhq/beacon/pkg/async"
	"github.com/beaconhq/beacon/pkg/observability"
	"github.com/beaconhq/beacon/pkg/store"
)

// claimsCacheSize bounds the LRU of verified claim sets. Entries are keyed
// by the full token string; a hit skips one HMAC verification on the
// handshake hot path. Revocation is unaffected: the store lookup still
// happens on every Validate.
const claimsCacheSize = 4096

// RolesFunc resolves the current role names for a principal. Refresh uses
// it to mint the new access token with up-to-date roles instead of the
// roles frozen at the previous login.
type RolesFunc func(ctx context.Context, email string) ([]string, error)

// Pair is a freshly issued access/refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresIn  time.Duration
	RefreshExpiresIn time.Duration
}

// Manager issues, validates, refreshes, and revokes authentication tokens
// against an expiring token store.
type Manager struct {
	store       store.Store
	signingKey  []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
	rolesFor    RolesFunc
	logger      *observability.Logger
	metrics     *observability.Metrics
	refreshLock *async.KeyedMutex
	claimsCache *lru.Cache[string, Claims]
	now         func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNow overrides the manager's time source for tests.
func WithNow(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a token lifecycle manager. rolesFor may be nil when
// refresh is not used (tests); the store handle is always passed in
// explicitly, there is no ambient global store.
func NewManager(
	st store.Store,
	signingKey []byte,
	accessTTL time.Duration,
	refreshTTL time.Duration,
	rolesFor RolesFunc,
	logger *observability.Logger,
	opts ...ManagerOption,
) (*Manager, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("signing key must not be empty")
	}
	cache, err := lru.New[string, Claims](claimsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create claims cache: %w", err)
	}

	m := &Manager{
		store:       st,
		signingKey:  signingKey,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		rolesFor:    rolesFor,
		logger:      logger,
		refreshLock: async.NewKeyedMutex(),
		claimsCache: cache,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// IssueAccessToken signs an access token for email and persists its record
// with the configured access TTL.
func (m *Manager) IssueAccessToken(ctx context.Context, email string, roles []string) (string, error) {
	now := m.now()
	signed, err := signAccessToken(m.signingKey, email, roles, now, m.accessTTL)
	if err != nil {
		return "", err
	}

	rec := store.TokenRecord{
		Token:     signed,
		Kind:      store.KindAccess,
		Email:     email,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.accessTTL),
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to persist access token: %w", err)
	}

	if m.metrics != nil {
		m.metrics.TokensIssuedTotal.WithLabelValues(string(store.KindAccess)).Inc()
	}
	m.logger.WithField("identity", email).Debug("Access token issued")
	return signed, nil
}

// IssueRefreshToken generates an opaque refresh token for email and
// persists its record with the configured refresh TTL.
func (m *Manager) IssueRefreshToken(ctx context.Context, email string) (string, error) {
	opaque, err := newOpaqueToken()
	if err != nil {
		return "", err
	}

	now := m.now()
	rec := store.TokenRecord{
		Token:     opaque,
		Kind:      store.KindRefresh,
		Email:     email,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.refreshTTL),
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to persist refresh token: %w", err)
	}

	if m.metrics != nil {
		m.metrics.TokensIssuedTotal.WithLabelValues(string(store.KindRefresh)).Inc()
	}
	m.logger.WithField("identity", email).Debug("Refresh token issued")
	return opaque, nil
}

// IssuePair issues a fresh access/refresh pair for email in one call.
func (m *Manager) IssuePair(ctx context.Context, email string, roles []string) (*Pair, error) {
	accessToken, err := m.IssueAccessToken(ctx, email, roles)
	if err != nil {
		return nil, err
	}
	refreshToken, err := m.IssueRefreshToken(ctx, email)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresIn:  m.accessTTL,
		RefreshExpiresIn: m.refreshTTL,
	}, nil
}

// Validate returns the live store record for token. A record must exist in
// the store AND, for access tokens, the signature must verify; the store
// lookup runs first so revoked-but-validly-signed tokens fail closed with
// store.ErrNotFound before any cryptography happens.
func (m *Manager) Validate(ctx context.Context, tokenString string) (*store.TokenRecord, error) {
	rec, err := m.store.Get(ctx, tokenString)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.observeValidation("not_found")
			return nil, err
		}
		m.observeValidation("store_error")
		return nil, err
	}

	if rec.Kind == store.KindAccess {
		if _, err := m.decodeClaims(tokenString); err != nil {
			m.observeValidation("invalid_signature")
			m.logger.WithError(err).WithField("identity", rec.Email).Warn("Stored access token failed signature verification")
			return nil, fmt.Errorf("%w: signature verification failed", ErrInvalidToken)
		}
	}

	m.observeValidation("ok")
	return rec, nil
}

// DecodeEmail extracts the subject email from a signed access token without
// consulting the store. Used on the websocket handshake path where the
// admission gate needs the identity before deciding anything else.
func (m *Manager) DecodeEmail(tokenString string) (string, error) {
	claims, err := m.decodeClaims(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Email(), nil
}

// DecodeClaims extracts the full verified claim set from an access token
// without a store round trip.
func (m *Manager) DecodeClaims(tokenString string) (*Claims, error) {
	return m.decodeClaims(tokenString)
}

func (m *Manager) decodeClaims(tokenString string) (*Claims, error) {
	if cached, ok := m.claimsCache.Get(tokenString); ok {
		// Cached claims were signature-checked once; expiry still has to be
		// re-checked against the current clock.
		if cached.ExpiresAt != nil && m.now().Before(cached.ExpiresAt.Time) {
			claims := cached
			return &claims, nil
		}
		m.claimsCache.Remove(tokenString)
		return nil, fmt.Errorf("%w: token expired", ErrMalformedToken)
	}

	claims, err := parseAccessToken(m.signingKey, tokenString)
	if err != nil {
		return nil, err
	}
	m.claimsCache.Add(tokenString, *claims)
	return claims, nil
}

// RevokeAllForEmail deletes every token record (access and refresh) owned
// by email in one bulk operation.
func (m *Manager) RevokeAllForEmail(ctx context.Context, email string) error {
	recs, err := m.store.FindAllByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to list tokens for revocation: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}
	if err := m.store.DeleteAll(ctx, recs); err != nil {
		return fmt.Errorf("failed to revoke tokens: %w", err)
	}

	for _, rec := range recs {
		m.claimsCache.Remove(rec.Token)
	}
	if m.metrics != nil {
		m.metrics.TokensRevokedTotal.Add(float64(len(recs)))
	}
	m.logger.WithField("identity", email).Infof("Revoked %d token(s)", len(recs))
	return nil
}

// Refresh rotates a refresh token: the old token (and every other token for
// the owner) is revoked, then a fresh access/refresh pair is issued.
// Concurrent calls with the same refresh token are serialized; the loser
// observes store.ErrNotFound because the winner's revocation already
// removed the record.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	unlock := m.refreshLock.Lock(refreshToken)
	defer unlock()

	rec, err := m.store.Get(ctx, refreshToken)
	if err != nil {
		m.observeRefresh("not_found")
		return nil, err
	}
	if rec.Kind != store.KindRefresh {
		m.observeRefresh("wrong_type")
		return nil, fmt.Errorf("%w: got %q", ErrWrongTokenType, rec.Kind)
	}

	roles := []string{}
	if m.rolesFor != nil {
		roles, err = m.rolesFor(ctx, rec.Email)
		if err != nil {
			m.observeRefresh("roles_error")
			return nil, fmt.Errorf("failed to resolve roles for %s: %w", rec.Email, err)
		}
	}

	if err := m.RevokeAllForEmail(ctx, rec.Email); err != nil {
		m.observeRefresh("revoke_error")
		return nil, err
	}

	accessToken, err := m.IssueAccessToken(ctx, rec.Email, roles)
	if err != nil {
		m.observeRefresh("issue_error")
		return nil, err
	}
	newRefresh, err := m.IssueRefreshToken(ctx, rec.Email)
	if err != nil {
		m.observeRefresh("issue_error")
		return nil, err
	}

	m.observeRefresh("ok")
	return &Pair{
		AccessToken:      accessToken,
		RefreshToken:     newRefresh,
		AccessExpiresIn:  m.accessTTL,
		RefreshExpiresIn: m.refreshTTL,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

func (m *Manager) observeValidation(outcome string) {
	if m.metrics != nil {
		m.metrics.TokenValidationsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Manager) observeRefresh(outcome string) {
	if m.metrics != nil {
		m.metrics.TokenRefreshesTotal.WithLabelValues(outcome).Inc()
	}
}
