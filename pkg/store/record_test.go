package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewPasswordResetRecord(t *testing.T) {
	userID := uuid.New()

	rec, err := NewPasswordResetRecord(userID, time.Hour)
	if err != nil {
		t.Fatalf("NewPasswordResetRecord() error = %v", err)
	}
	if rec.Token == "" {
		t.Error("NewPasswordResetRecord() minted an empty token")
	}
	if rec.UserID != userID {
		t.Errorf("NewPasswordResetRecord() user = %v, want %v", rec.UserID, userID)
	}
	if ttl := time.Until(rec.ExpiresAt); ttl <= 0 || ttl > time.Hour {
		t.Errorf("NewPasswordResetRecord() expiry %v out of range", rec.ExpiresAt)
	}

	other, err := NewPasswordResetRecord(userID, time.Hour)
	if err != nil {
		t.Fatalf("NewPasswordResetRecord() error = %v", err)
	}
	if other.Token == rec.Token {
		t.Error("NewPasswordResetRecord() reused a token")
	}
}

func TestTokenRecordTTL(t *testing.T) {
	now := time.Now()
	rec := TokenRecord{ExpiresAt: now.Add(time.Minute)}
	if got := rec.TTL(now); got != time.Minute {
		t.Errorf("TTL() = %v, want %v", got, time.Minute)
	}
}
