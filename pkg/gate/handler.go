package gate

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beaconhq/beacon/pkg/httputil"
	"github.com/beaconhq/beacon/pkg/observability"
	"github.com/beaconhq/beacon/pkg/presence"
)

// defaultWriteTimeout bounds every outbound frame so one slow client
// cannot stall broadcasts or the heartbeat loop.
const defaultWriteTimeout = 5 * time.Second

// Handler upgrades admitted connection attempts to websockets and runs the
// per-connection read loop.
type Handler struct {
	gate         *Gate
	hub          *presence.Hub
	logger       *observability.Logger
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

// HandlerOption customizes the websocket handler.
type HandlerOption func(*Handler)

// WithWriteTimeout overrides the per-frame write deadline.
func WithWriteTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// NewHandler creates the websocket endpoint handler.
func NewHandler(gate *Gate, hub *presence.Hub, logger *observability.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		gate:   gate,
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The browser client connects from a different origin; auth is
			// carried by the access token, not by cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP handles one connection attempt: authenticate, admit, upgrade,
// then pump inbound envelopes until the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cred, err := h.gate.Authenticate(r.URL.RawQuery)
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	conn, err := h.gate.Admit(cred, func() (presence.Conn, error) {
		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return nil, err
		}
		return newWSConn(ws, h.writeTimeout), nil
	})
	if err != nil {
		if errors.Is(err, presence.ErrAlreadyPresent) {
			// The upgrader has not hijacked the connection yet for this
			// rejection path, so a plain HTTP refusal is still possible.
			httputil.WriteErrorMessage(w, http.StatusConflict, "already connected elsewhere")
		}
		return
	}

	h.logger.WithField("identity", cred.Email).Infof("Websocket connection established. Path: %s", r.URL.Path)
	h.readLoop(cred, conn)
}

// readLoop pumps inbound frames until the connection closes for any
// reason, then releases the presence entry using the identity captured at
// admission.
func (h *Handler) readLoop(cred *Credential, conn presence.Conn) {
	ws := conn.(*wsConn)
	defer func() {
		h.gate.Release(cred, conn)
		ws.Close()
		h.logger.WithField("identity", cred.Email).Info("Websocket connection closed")
	}()

	for {
		messageType, payload, err := ws.raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.WithError(err).WithField("identity", cred.Email).Debug("Websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env presence.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			h.logger.WithError(err).WithField("identity", cred.Email).Warn("Unable to parse websocket request body")
			continue
		}
		// The sender field always reflects the authenticated identity; a
		// client cannot spoof messages from someone else.
		h.hub.SendPrivate(cred.Email, env.To, env.Content)
	}
}

// wsConn adapts a gorilla websocket connection to presence.Conn. Writes
// are serialized with a mutex and bounded by a deadline.
type wsConn struct {
	raw          *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func newWSConn(raw *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{raw: raw, writeTimeout: writeTimeout}
}

// Send implements presence.Conn.
func (c *wsConn) Send(env presence.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.raw.WriteJSON(env)
}

// Ping implements presence.Conn.
func (c *wsConn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.raw.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close implements presence.Conn.
func (c *wsConn) Close() error {
	return c.raw.Close()
}
