package gate

import (
	"fmt"

	"github.com/beaconhq/beacon/pkg/async"
	"github.com/beaconhq/beacon/pkg/observability"
	"github.com/beaconhq/beacon/pkg/presence"
	"github.com/beaconhq/beacon/pkg/token"
)

// Credential is the identity decoded from a connection attempt. It is
// derived exactly once per attempt and reused for registration and
// close-time cleanup.
type Credential struct {
	Email string
	Token string
}

// Gate validates inbound realtime-connection requests before admission.
type Gate struct {
	tokens  *token.Manager
	hub     *presence.Hub
	locks   *async.KeyedMutex
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewGate creates an admission gate over the given token manager and
// presence hub.
func NewGate(tokens *token.Manager, hub *presence.Hub, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	return &Gate{
		tokens:  tokens,
		hub:     hub,
		locks:   async.NewKeyedMutex(),
		logger:  logger,
		metrics: metrics,
	}
}

// Authenticate extracts and decodes the credential from a raw query
// string. Returns an error (and no credential) when the query is missing,
// malformed, or carries a token that fails claims verification.
func (g *Gate) Authenticate(rawQuery string) (*Credential, error) {
	tokenString, err := credentialFromQuery(rawQuery)
	if err != nil {
		g.observe("rejected_no_credential")
		return nil, err
	}

	email, err := g.tokens.DecodeEmail(tokenString)
	if err != nil {
		g.observe("rejected_bad_token")
		g.logger.WithError(err).Warn("Rejecting websocket connection attempt with undecodable token")
		return nil, fmt.Errorf("credential rejected: %w", err)
	}

	return &Credential{Email: email, Token: tokenString}, nil
}

// Admit runs the presence check and registration for cred as one atomic
// step under a per-identity lock. establish is called between the check
// and the registration to complete the transport handshake and must
// return the connection to register; if it fails, nothing is registered.
//
// Two concurrent attempts for the same identity serialize here: the first
// registers, the second observes the occupied slot and is rejected with
// presence.ErrAlreadyPresent.
func (g *Gate) Admit(cred *Credential, establish func() (presence.Conn, error)) (presence.Conn, error) {
	unlock := g.locks.Lock(cred.Email)
	defer unlock()

	if g.hub.Has(cred.Email) {
		g.observe("rejected_already_present")
		g.logger.WithField("identity", cred.Email).Warn("Rejecting websocket connection attempt, identity already connected")
		return nil, presence.ErrAlreadyPresent
	}

	conn, err := establish()
	if err != nil {
		g.observe("handshake_failed")
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	if err := g.hub.Register(cred.Email, conn, cred.Token); err != nil {
		// Unreachable while all registrations go through the gate; kept so
		// a failure here cannot leak the established connection.
		g.observe("rejected_already_present")
		conn.Close()
		return nil, err
	}

	g.observe("admitted")
	return conn, nil
}

// Release removes the presence entry for cred if conn still owns it.
// Called when the connection closes for any reason.
func (g *Gate) Release(cred *Credential, conn presence.Conn) {
	g.hub.UnregisterConn(cred.Email, conn)
}

func (g *Gate) observe(outcome string) {
	if g.metrics != nil {
		g.metrics.AdmissionDecisionsTotal.WithLabelValues(outcome).Inc()
	}
}
