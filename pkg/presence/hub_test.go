package presence

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/beaconhq/beacon/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

// fakeConn records everything sent to it and can be told to fail. When
// sendStarted/sendRelease are set, the first Send signals the test and
// then parks until released.
type fakeConn struct {
	mu          sync.Mutex
	sent        []Envelope
	closed      bool
	sendErr     error
	pingErr     error
	sendStarted chan struct{}
	sendRelease chan struct{}
}

func (c *fakeConn) Send(env Envelope) error {
	if c.sendStarted != nil {
		close(c.sendStarted)
		c.sendStarted = nil
		<-c.sendRelease
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Ping() error { return c.pingErr }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) envelopes() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func lastOfType(envs []Envelope, eventType string) (Envelope, bool) {
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == eventType {
			return envs[i], true
		}
	}
	return Envelope{}, false
}

func TestRegisterSingleSessionPerIdentity(t *testing.T) {
	h := NewHub(testLogger())
	first := &fakeConn{}
	second := &fakeConn{}

	if err := h.Register("alice@example.com", first, "tok-1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := h.Register("alice@example.com", second, "tok-2")
	if !errors.Is(err, ErrAlreadyPresent) {
		t.Fatalf("second Register() error = %v, want ErrAlreadyPresent", err)
	}

	// The original session keeps the slot untouched.
	if !h.Has("alice@example.com") {
		t.Error("identity lost its presence entry")
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
	if first.isClosed() {
		t.Error("existing connection was closed by the rejected registration")
	}
}

func TestRegisterBroadcastsLoginAndSendsRoster(t *testing.T) {
	h := NewHub(testLogger())
	alice := &fakeConn{}
	bob := &fakeConn{}

	h.Register("alice@example.com", alice, "tok-a")
	h.Register("bob@example.com", bob, "tok-b")

	// Alice, online first, hears about bob's login.
	login, ok := lastOfType(alice.envelopes(), TypeLogin)
	if !ok {
		t.Fatal("existing connection received no login event")
	}
	if login.Content != "bob@example.com" {
		t.Errorf("login content = %v, want bob@example.com", login.Content)
	}

	// Bob, the newcomer, gets the roster including himself, and no echo of
	// his own login.
	roster, ok := lastOfType(bob.envelopes(), TypeOnline)
	if !ok {
		t.Fatal("newcomer received no roster")
	}
	names := strings.Split(roster.Content, ",")
	if len(names) != 2 || names[0] != "alice@example.com" || names[1] != "bob@example.com" {
		t.Errorf("roster = %v, want sorted [alice bob]", roster.Content)
	}
	if _, ok := lastOfType(bob.envelopes(), TypeLogin); ok {
		t.Error("newcomer received its own login broadcast")
	}
}

func TestUnregisterBroadcastsLogout(t *testing.T) {
	h := NewHub(testLogger())
	alice := &fakeConn{}
	bob := &fakeConn{}
	h.Register("alice@example.com", alice, "tok-a")
	h.Register("bob@example.com", bob, "tok-b")

	entry := h.Unregister("bob@example.com")
	if entry == nil {
		t.Fatal("Unregister() returned nil for registered identity")
	}
	if h.Has("bob@example.com") {
		t.Error("identity still present after Unregister")
	}

	logout, ok := lastOfType(alice.envelopes(), TypeLogout)
	if !ok {
		t.Fatal("remaining connection received no logout event")
	}
	if logout.Content != "bob@example.com" {
		t.Errorf("logout content = %v, want bob@example.com", logout.Content)
	}

	// Second unregister is a no-op.
	if entry := h.Unregister("bob@example.com"); entry != nil {
		t.Error("repeated Unregister() returned an entry")
	}
}

func TestUnregisterConnIgnoresStaleConnection(t *testing.T) {
	h := NewHub(testLogger())
	stale := &fakeConn{}
	h.Register("alice@example.com", stale, "tok-1")
	h.Drop("alice@example.com")

	// A successor registers; the stale connection's close handler fires
	// afterwards and must not evict it.
	successor := &fakeConn{}
	if err := h.Register("alice@example.com", successor, "tok-2"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if entry := h.UnregisterConn("alice@example.com", stale); entry != nil {
		t.Error("UnregisterConn() evicted the successor entry")
	}
	if !h.Has("alice@example.com") {
		t.Error("successor lost its presence entry to a stale close")
	}

	if entry := h.UnregisterConn("alice@example.com", successor); entry == nil {
		t.Error("UnregisterConn() with the live connection returned nil")
	}
}

func TestDropClosesConnection(t *testing.T) {
	h := NewHub(testLogger())
	conn := &fakeConn{}
	h.Register("alice@example.com", conn, "tok-1")

	h.Drop("alice@example.com")

	if h.Has("alice@example.com") {
		t.Error("identity still present after Drop")
	}
	if !conn.isClosed() {
		t.Error("Drop did not close the connection")
	}
}

func TestSendPrivateDelivery(t *testing.T) {
	h := NewHub(testLogger())
	alice := &fakeConn{}
	bob := &fakeConn{}
	h.Register("alice@example.com", alice, "tok-a")
	h.Register("bob@example.com", bob, "tok-b")

	h.SendPrivate("alice@example.com", "bob@example.com", "hello")

	msg, ok := lastOfType(bob.envelopes(), TypePrivate)
	if !ok {
		t.Fatal("recipient received no private message")
	}
	if msg.From != "alice@example.com" || msg.Content != "hello" {
		t.Errorf("private message = %+v", msg)
	}
	if _, ok := lastOfType(alice.envelopes(), TypePrivate); ok {
		t.Error("sender received a copy of its own private message")
	}
}

func TestSendPrivateToOfflineIsDropped(t *testing.T) {
	h := NewHub(testLogger())
	alice := &fakeConn{}
	h.Register("alice@example.com", alice, "tok-a")

	// Must not panic, queue, or disturb existing sessions.
	h.SendPrivate("alice@example.com", "ghost@example.com", "anyone there?")

	if !h.Has("alice@example.com") {
		t.Error("sender session disturbed by offline delivery")
	}
}

func TestBroadcastSurvivesFailingConnection(t *testing.T) {
	h := NewHub(testLogger())
	healthy := &fakeConn{}
	broken := &fakeConn{sendErr: errors.New("connection reset")}
	h.Register("alice@example.com", healthy, "tok-a")
	h.Register("bob@example.com", broken, "tok-b")

	h.Broadcast("announcement", "maintenance at noon")

	// The healthy peer got the event; the broken one was evicted and
	// closed instead of wedging delivery.
	if _, ok := lastOfType(healthy.envelopes(), "announcement"); !ok {
		t.Error("healthy connection missed the broadcast")
	}
	if h.Has("bob@example.com") {
		t.Error("failing connection kept its presence entry")
	}
	if !broken.isClosed() {
		t.Error("failing connection was not closed")
	}
}

func TestBroadcastFailureDoesNotEvictSuccessor(t *testing.T) {
	h := NewHub(testLogger())
	started := make(chan struct{})
	release := make(chan struct{})
	stale := &fakeConn{}
	h.Register("alice@example.com", stale, "tok-1")

	// Arm the failure and the park only after the synchronous roster send
	// inside Register has drained, so the first parked Send is the
	// broadcast delivery.
	stale.sendErr = errors.New("connection reset")
	stale.sendStarted = started
	stale.sendRelease = release

	done := make(chan struct{})
	go func() {
		h.Broadcast("announcement", "maintenance at noon")
		close(done)
	}()
	<-started

	// The client reconnects while delivery is in flight: the stale
	// connection unregisters and a successor takes over the identity.
	h.UnregisterConn("alice@example.com", stale)
	successor := &fakeConn{}
	if err := h.Register("alice@example.com", successor, "tok-2"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	close(release)
	<-done

	// Cleanup for the failed send is scoped to the stale connection and
	// must leave the successor untouched.
	if !h.Has("alice@example.com") {
		t.Error("successor lost its presence entry to a stale delivery failure")
	}
	if successor.isClosed() {
		t.Error("successor connection closed by a stale delivery failure")
	}
	if entry := h.UnregisterConn("alice@example.com", successor); entry == nil {
		t.Error("UnregisterConn() with the successor connection returned nil")
	}
}

func TestPingAllDropsUnresponsive(t *testing.T) {
	h := NewHub(testLogger())
	healthy := &fakeConn{}
	dead := &fakeConn{pingErr: errors.New("broken pipe")}
	h.Register("alice@example.com", healthy, "tok-a")
	h.Register("bob@example.com", dead, "tok-b")

	h.PingAll()

	if !h.Has("alice@example.com") {
		t.Error("responsive connection was dropped")
	}
	if h.Has("bob@example.com") {
		t.Error("unresponsive connection kept its presence entry")
	}
	if !dead.isClosed() {
		t.Error("unresponsive connection was not closed")
	}

	// The survivor hears the implicit logout.
	logout, ok := lastOfType(healthy.envelopes(), TypeLogout)
	if !ok {
		t.Fatal("no logout broadcast after heartbeat eviction")
	}
	if logout.Content != "bob@example.com" {
		t.Errorf("logout content = %v, want bob@example.com", logout.Content)
	}
}

func TestSnapshotSorted(t *testing.T) {
	h := NewHub(testLogger())
	h.Register("carol@example.com", &fakeConn{}, "tok-c")
	h.Register("alice@example.com", &fakeConn{}, "tok-a")
	h.Register("bob@example.com", &fakeConn{}, "tok-b")

	got := h.Snapshot()
	want := []string{"alice@example.com", "bob@example.com", "carol@example.com"}
	if len(got) != len(want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot() = %v, want %v", got, want)
		}
	}
}

func TestConcurrentRegistrationsOneWinner(t *testing.T) {
	h := NewHub(testLogger())

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.Register("alice@example.com", &fakeConn{}, "tok")
		}()
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrAlreadyPresent) {
			t.Errorf("unexpected registration error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("concurrent registration winners = %d, want exactly 1", wins)
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
}
