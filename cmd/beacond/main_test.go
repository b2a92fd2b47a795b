package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/beaconhq/beacon/pkg/observability"
	"github.com/beaconhq/beacon/pkg/presence"
	"github.com/beaconhq/beacon/pkg/store"
)

type nopConn struct{}

func (nopConn) Send(presence.Envelope) error { return nil }
func (nopConn) Ping() error                  { return nil }
func (nopConn) Close() error                 { return nil }

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestExpiryCascadeDropsExpiredSession(t *testing.T) {
	logger := testLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	hub := presence.NewHub(logger)
	records := store.NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	records.OnExpired(expiryCascade(ctx, logger, metrics, hub))

	if err := hub.Register("alice@example.com", nopConn{}, "tok-access"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := records.Put(context.Background(), store.TokenRecord{
		Token:     "tok-access",
		Kind:      store.KindAccess,
		Email:     "alice@example.com",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(10 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// The drop runs asynchronously off the eviction notification.
	deadline := time.Now().Add(time.Second)
	for hub.Has("alice@example.com") {
		if time.Now().After(deadline) {
			t.Fatal("session still present after its access token expired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := testutil.ToFloat64(metrics.StoreExpiriesTotal.WithLabelValues("access")); got != 1 {
		t.Errorf("access expiry count = %v, want 1", got)
	}
}

func TestExpiryCascadeRefreshTokenLeavesSession(t *testing.T) {
	logger := testLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	hub := presence.NewHub(logger)

	cascade := expiryCascade(context.Background(), logger, metrics, hub)

	if err := hub.Register("bob@example.com", nopConn{}, "tok-access"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	cascade(store.ExpiredRecord{
		Kind: store.ExpiredToken,
		Token: &store.TokenRecord{
			Token: "tok-refresh",
			Kind:  store.KindRefresh,
			Email: "bob@example.com",
		},
	})

	if !hub.Has("bob@example.com") {
		t.Error("refresh token expiry disconnected a live session")
	}
	if got := testutil.ToFloat64(metrics.StoreExpiriesTotal.WithLabelValues("refresh")); got != 1 {
		t.Errorf("refresh expiry count = %v, want 1", got)
	}
}

func TestExpiryCascadeCountsPasswordResets(t *testing.T) {
	logger := testLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	hub := presence.NewHub(logger)

	cascade := expiryCascade(context.Background(), logger, metrics, hub)
	cascade(store.ExpiredRecord{
		Kind:          store.ExpiredPasswordReset,
		PasswordReset: &store.PasswordResetRecord{Token: "reset-1", UserID: uuid.New()},
	})

	if got := testutil.ToFloat64(metrics.StoreExpiriesTotal.WithLabelValues("password_reset")); got != 1 {
		t.Errorf("password reset expiry count = %v, want 1", got)
	}
}
