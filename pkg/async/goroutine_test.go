package async

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSafeGoReportsError(t *testing.T) {
	errs := make(chan error, 1)
	SafeGo(context.Background(), time.Second, func(err error) { errs <- err }, func(context.Context) error {
		return errors.New("task failed")
	})

	select {
	case err := <-errs:
		if err == nil || err.Error() != "task failed" {
			t.Errorf("onError received %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("onError was never called")
	}
}

func TestSafeGoRecoversPanic(t *testing.T) {
	errs := make(chan error, 1)
	SafeGo(context.Background(), time.Second, func(err error) { errs <- err }, func(context.Context) error {
		panic("boom")
	})

	select {
	case err := <-errs:
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Errorf("onError received %v, want wrapped panic", err)
		}
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}
}

func TestSafeGoTimeoutPropagates(t *testing.T) {
	done := make(chan error, 1)
	SafeGo(context.Background(), 10*time.Millisecond, nil, func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return nil
	})

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("ctx error = %v, want DeadlineExceeded", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task context never expired")
	}
}
