package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is a server-side login session. Only keyed hashes of refresh secrets are stored.
// Version increments on every mutation and guards refresh rotation.
type Session struct {
	ID     string
	UserID string
	// RefreshHash is the hash of the current refresh secret; unique across sessions.
	RefreshHash string
	// PreviousRefreshHash is the hash rotated away by the last refresh, kept to detect reuse.
	PreviousRefreshHash string
	Version             int64
	CreatedAt           time.Time
	LastUsedAt          time.Time
	ExpiresAt           time.Time
	Revoked             bool
	RevokedAt           *time.Time
	UserAgent           string
	IPAddress           string
}

// New returns a fresh session expiring ttl after now.
func New(userID, refreshHash string, now time.Time, ttl time.Duration, userAgent, ip string) *Session {
	if ttl < 0 {
		ttl = 0
	}
	return &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		RefreshHash: refreshHash,
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(ttl),
		UserAgent:   userAgent,
		IPAddress:   ip,
	}
}

// ActiveAt reports whether the session is neither revoked nor expired at now.
func (s *Session) ActiveAt(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}
