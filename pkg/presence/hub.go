package presence

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beaconhq/beacon/pkg/observability"
)

// ErrAlreadyPresent indicates a registration attempt for an identity that
// already holds the single session slot. The caller must reject the new
// connection; the existing one is never replaced.
var ErrAlreadyPresent = errors.New("identity already present")

// Hub is the in-memory presence cache: one live connection per identity.
// All map mutations go through the hub's lock; sends happen outside it.
type Hub struct {
	mu      sync.Mutex
	entries map[string]*Entry

	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubNow overrides the hub's time source for tests.
func WithHubNow(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// WithHubMetrics attaches Prometheus metrics.
func WithHubMetrics(metrics *observability.Metrics) HubOption {
	return func(h *Hub) { h.metrics = metrics }
}

// NewHub creates an empty presence hub.
func NewHub(logger *observability.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		entries: make(map[string]*Entry),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register inserts a presence entry for email if none exists. On success a
// login event is broadcast to every other connection and the newcomer
// receives the full roster snapshot. Returns ErrAlreadyPresent without
// touching the existing entry when the slot is taken.
func (h *Hub) Register(email string, conn Conn, credentialToken string) error {
	h.mu.Lock()
	if _, ok := h.entries[email]; ok {
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.PresenceRegistrations.WithLabelValues("already_present").Inc()
		}
		h.logger.WithField("identity", email).Warn("Rejected duplicate presence registration")
		return ErrAlreadyPresent
	}
	entry := &Entry{Email: email, Token: credentialToken, Conn: conn}
	h.entries[email] = entry
	h.updateGauge()
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.PresenceRegistrations.WithLabelValues("ok").Inc()
	}
	h.logger.WithField("identity", email).Info("Presence registered")

	h.broadcastExcept(email, TypeLogin, email)
	h.sendRoster(entry)
	return nil
}

// Unregister removes and returns the entry for email, broadcasting a
// logout event to the remaining connections. Idempotent: a second call
// returns nil without error.
func (h *Hub) Unregister(email string) *Entry {
	h.mu.Lock()
	entry, ok := h.entries[email]
	if ok {
		delete(h.entries, email)
		h.updateGauge()
	}
	h.mu.Unlock()

	if !ok {
		h.logger.WithField("identity", email).Debug("Unregister for absent identity, nothing to do")
		return nil
	}

	h.logger.WithField("identity", email).Info("Presence unregistered")
	h.Broadcast(TypeLogout, email)
	return entry
}

// Has reports whether email currently holds a presence entry.
func (h *Hub) Has(email string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.entries[email]
	return ok
}

// UnregisterConn removes the entry for email only when it still refers to
// conn. Connection close handlers use this so a stale close cannot evict a
// successor entry registered after the original was dropped.
func (h *Hub) UnregisterConn(email string, conn Conn) *Entry {
	h.mu.Lock()
	entry, ok := h.entries[email]
	if !ok || entry.Conn != conn {
		h.mu.Unlock()
		return nil
	}
	delete(h.entries, email)
	h.updateGauge()
	h.mu.Unlock()

	h.logger.WithField("identity", email).Info("Presence unregistered")
	h.Broadcast(TypeLogout, email)
	return entry
}

// Drop unregisters email and closes its connection. Used when the backing
// credential died (TTL expiry, logout) rather than the transport.
func (h *Hub) Drop(email string) {
	if entry := h.Unregister(email); entry != nil {
		if err := entry.Conn.Close(); err != nil {
			h.logger.WithError(err).WithField("identity", email).Debug("Error closing dropped connection")
		}
	}
}

// SendPrivate delivers a direct message to one identity. Delivery to an
// offline identity is dropped and logged, never queued or retried.
func (h *Hub) SendPrivate(from, to, payload string) {
	h.mu.Lock()
	entry, ok := h.entries[to]
	h.mu.Unlock()

	if !ok {
		h.logger.WithFields(map[string]interface{}{"from": from, "to": to}).Warn("Dropping private message for offline identity")
		return
	}

	env := Envelope{
		From:    from,
		To:      to,
		Type:    TypePrivate,
		Content: payload,
		Date:    h.now().UnixMilli(),
	}
	if err := entry.Conn.Send(env); err != nil {
		h.sendFailed(entry, err)
	}
}

// Broadcast sends an envelope of the given type to every registered
// connection. A failed send is logged and cleaned up without aborting
// delivery to the remaining recipients.
func (h *Hub) Broadcast(eventType, content string) {
	h.broadcastExcept("", eventType, content)
}

// broadcastExcept delivers to all entries except the named identity.
// Iteration runs over a snapshot so sends never happen under the lock.
func (h *Hub) broadcastExcept(except, eventType, content string) {
	env := Envelope{
		Type:    eventType,
		Content: content,
		Date:    h.now().UnixMilli(),
	}

	for _, entry := range h.snapshotEntries() {
		if entry.Email == except {
			continue
		}
		if err := entry.Conn.Send(env); err != nil {
			h.sendFailed(entry, err)
		}
	}
	if h.metrics != nil {
		h.metrics.PresenceBroadcastsTotal.WithLabelValues(eventType).Inc()
	}
}

// sendRoster sends the newcomer the comma-joined list of everyone online,
// itself included.
func (h *Hub) sendRoster(entry *Entry) {
	env := Envelope{
		To:      entry.Email,
		Type:    TypeOnline,
		Content: strings.Join(h.Snapshot(), ","),
		Date:    h.now().UnixMilli(),
	}
	if err := entry.Conn.Send(env); err != nil {
		h.sendFailed(entry, err)
	}
}

// Snapshot returns the currently online identities in sorted order.
func (h *Hub) Snapshot() []string {
	h.mu.Lock()
	emails := make([]string, 0, len(h.entries))
	for email := range h.entries {
		emails = append(emails, email)
	}
	h.mu.Unlock()

	sort.Strings(emails)
	return emails
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// PingAll probes every registered connection. A ping failure is treated as
// a disconnect: the entry is dropped immediately so a half-open connection
// cannot hold the session slot past one heartbeat interval.
func (h *Hub) PingAll() {
	for _, entry := range h.snapshotEntries() {
		if err := entry.Conn.Ping(); err != nil {
			h.logger.WithError(err).WithField("identity", entry.Email).Warn("Heartbeat failed, dropping presence entry")
			if h.metrics != nil {
				h.metrics.HeartbeatFailuresTotal.Inc()
			}
			if e := h.UnregisterConn(entry.Email, entry.Conn); e != nil {
				if closeErr := e.Conn.Close(); closeErr != nil {
					h.logger.WithError(closeErr).WithField("identity", e.Email).Debug("Error closing dropped connection")
				}
			}
		}
	}
}

// snapshotEntries copies the entry set under the lock so callers can send
// without holding it. Iteration order over recipients is unspecified.
func (h *Hub) snapshotEntries() []*Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := make([]*Entry, 0, len(h.entries))
	for _, entry := range h.entries {
		entries = append(entries, entry)
	}
	return entries
}

// sendFailed logs a per-connection delivery failure and removes the broken
// entry. Called outside the hub lock. Removal is conn-scoped: the failed
// entry may be a stale snapshot, and a successor registered for the same
// identity in the meantime must not be evicted.
func (h *Hub) sendFailed(entry *Entry, err error) {
	h.logger.WithError(err).WithField("identity", entry.Email).Warn("Send failed, cleaning up presence entry")
	if h.metrics != nil {
		h.metrics.PresenceSendErrorsTotal.Inc()
	}
	if e := h.UnregisterConn(entry.Email, entry.Conn); e != nil {
		if closeErr := e.Conn.Close(); closeErr != nil {
			h.logger.WithError(closeErr).WithField("identity", e.Email).Debug("Error closing dropped connection")
		}
	}
}

// updateGauge must be called with h.mu held.
func (h *Hub) updateGauge() {
	if h.metrics != nil {
		h.metrics.PresenceOnline.Set(float64(len(h.entries)))
	}
}
