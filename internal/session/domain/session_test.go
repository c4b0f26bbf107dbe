package domain

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New("u1", "h1", now, time.Hour, "ua", "10.0.0.1")
	if s.ID == "" || s.UserID != "u1" || s.RefreshHash != "h1" {
		t.Fatalf("session = %+v", s)
	}
	if !s.ExpiresAt.Equal(now.Add(time.Hour)) || !s.LastUsedAt.Equal(now) {
		t.Errorf("times = %+v", s)
	}
	if s.ExpiresAt.Before(s.CreatedAt) {
		t.Error("expiry must not precede creation")
	}
}

func TestNew_NegativeTTLClamped(t *testing.T) {
	now := time.Now()
	s := New("u1", "h", now, -time.Hour, "", "")
	if s.ExpiresAt.Before(s.CreatedAt) {
		t.Error("expiry must not precede creation")
	}
}

func TestActiveAt(t *testing.T) {
	now := time.Now()
	s := New("u1", "h", now, time.Hour, "", "")
	if !s.ActiveAt(now) {
		t.Error("fresh session should be active")
	}
	if s.ActiveAt(now.Add(time.Hour)) {
		t.Error("session should be expired at ExpiresAt")
	}
	s.Revoked = true
	if s.ActiveAt(now) {
		t.Error("revoked session must not be active")
	}
}
