package gate

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/beaconhq/beacon/pkg/observability"
	"github.com/beaconhq/beacon/pkg/presence"
	"github.com/beaconhq/beacon/pkg/store"
	"github.com/beaconhq/beacon/pkg/token"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

type stubConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *stubConn) Send(presence.Envelope) error { return nil }
func (c *stubConn) Ping() error                  { return nil }
func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestGate(t *testing.T) (*Gate, *token.Manager, *presence.Hub) {
	t.Helper()
	tokens, err := token.NewManager(store.NewMemoryStore(), []byte("test-key"), time.Hour, 24*time.Hour, nil, testLogger())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	hub := presence.NewHub(testLogger())
	return NewGate(tokens, hub, testLogger(), nil), tokens, hub
}

func TestCredentialFromQuery(t *testing.T) {
	tests := []struct {
		name     string
		rawQuery string
		want     string
		wantErr  bool
	}{
		{
			name:     "valid token parameter",
			rawQuery: "access_token=abc123",
			want:     "abc123",
		},
		{
			name:     "token among other parameters",
			rawQuery: "foo=bar&access_token=abc123",
			want:     "abc123",
		},
		{
			name:     "empty query",
			rawQuery: "",
			wantErr:  true,
		},
		{
			name:     "missing parameter",
			rawQuery: "foo=bar",
			wantErr:  true,
		},
		{
			name:     "empty parameter value",
			rawQuery: "access_token=",
			wantErr:  true,
		},
		{
			name:     "unparseable query",
			rawQuery: "a=%zz",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := credentialFromQuery(tt.rawQuery)
			if tt.wantErr {
				if !errors.Is(err, ErrNoCredential) {
					t.Errorf("credentialFromQuery() error = %v, want ErrNoCredential", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("credentialFromQuery() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("credentialFromQuery() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthenticateValidToken(t *testing.T) {
	g, tokens, _ := newTestGate(t)

	signed, err := tokens.IssueAccessToken(context.Background(), "alice@example.com", nil)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	cred, err := g.Authenticate("access_token=" + signed)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if cred.Email != "alice@example.com" {
		t.Errorf("Authenticate() email = %v", cred.Email)
	}
	if cred.Token != signed {
		t.Error("Authenticate() did not retain the presented token")
	}
}

func TestAuthenticateRejections(t *testing.T) {
	g, _, _ := newTestGate(t)

	if _, err := g.Authenticate(""); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Authenticate(empty) error = %v, want ErrNoCredential", err)
	}
	if _, err := g.Authenticate("access_token=not-a-jwt"); !errors.Is(err, token.ErrMalformedToken) {
		t.Errorf("Authenticate(garbage) error = %v, want ErrMalformedToken", err)
	}
}

func TestAdmitRegistersPresence(t *testing.T) {
	g, _, hub := newTestGate(t)
	cred := &Credential{Email: "alice@example.com", Token: "tok"}

	conn, err := g.Admit(cred, func() (presence.Conn, error) {
		return &stubConn{}, nil
	})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if conn == nil {
		t.Fatal("Admit() returned nil connection")
	}
	if !hub.Has("alice@example.com") {
		t.Error("admitted identity has no presence entry")
	}
}

func TestAdmitRejectsDuplicate(t *testing.T) {
	g, _, hub := newTestGate(t)
	cred := &Credential{Email: "alice@example.com", Token: "tok"}

	if _, err := g.Admit(cred, func() (presence.Conn, error) { return &stubConn{}, nil }); err != nil {
		t.Fatalf("first Admit() error = %v", err)
	}

	established := false
	_, err := g.Admit(cred, func() (presence.Conn, error) {
		established = true
		return &stubConn{}, nil
	})
	if !errors.Is(err, presence.ErrAlreadyPresent) {
		t.Fatalf("second Admit() error = %v, want ErrAlreadyPresent", err)
	}
	// The occupied slot is detected before any handshake work happens.
	if established {
		t.Error("handshake ran for a rejected duplicate")
	}
	if hub.Len() != 1 {
		t.Errorf("hub.Len() = %d, want 1", hub.Len())
	}
}

func TestAdmitEstablishFailure(t *testing.T) {
	g, _, hub := newTestGate(t)
	cred := &Credential{Email: "alice@example.com", Token: "tok"}

	_, err := g.Admit(cred, func() (presence.Conn, error) {
		return nil, errors.New("upgrade failed")
	})
	if err == nil {
		t.Fatal("Admit() with failing handshake succeeded")
	}
	if hub.Has("alice@example.com") {
		t.Error("failed handshake left a presence entry behind")
	}

	// The slot is free for a retry.
	if _, err := g.Admit(cred, func() (presence.Conn, error) { return &stubConn{}, nil }); err != nil {
		t.Errorf("Admit() retry error = %v", err)
	}
}

func TestAdmitConcurrentSameIdentity(t *testing.T) {
	g, _, hub := newTestGate(t)
	cred := &Credential{Email: "alice@example.com", Token: "tok"}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	conns := make([]*stubConn, workers)
	for i := 0; i < workers; i++ {
		conns[i] = &stubConn{}
		wg.Add(1)
		go func(conn *stubConn) {
			defer wg.Done()
			_, err := g.Admit(cred, func() (presence.Conn, error) {
				// Simulate handshake latency inside the admission window.
				time.Sleep(time.Millisecond)
				return conn, nil
			})
			errs <- err
		}(conns[i])
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, presence.ErrAlreadyPresent) {
			t.Errorf("unexpected admission error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("concurrent admission winners = %d, want exactly 1", wins)
	}
	if hub.Len() != 1 {
		t.Errorf("hub.Len() = %d, want 1", hub.Len())
	}
}

func TestReleaseOnlyOwnConnection(t *testing.T) {
	g, _, hub := newTestGate(t)
	cred := &Credential{Email: "alice@example.com", Token: "tok"}

	first := &stubConn{}
	if _, err := g.Admit(cred, func() (presence.Conn, error) { return first, nil }); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	g.Release(cred, first)
	if hub.Has("alice@example.com") {
		t.Fatal("Release() left the presence entry")
	}

	// A successor takes the slot; the first connection's late release must
	// not evict it.
	second := &stubConn{}
	if _, err := g.Admit(cred, func() (presence.Conn, error) { return second, nil }); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	g.Release(cred, first)
	if !hub.Has("alice@example.com") {
		t.Error("stale Release() evicted the successor")
	}
}
