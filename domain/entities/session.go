package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the status of a session
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// DefaultSessionTTL is how long an idle session stays valid
const DefaultSessionTTL = 24 * time.Hour

// Session represents one page session. The conversation belongs to the
// session and is gone once the session ends.
type Session struct {
	ID           string        `json:"id"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActiveAt time.Time     `json:"last_active_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	Status       SessionStatus `json:"status"`
	ttl          time.Duration
}

// NewSession creates a new active session
func NewSession(ttl time.Duration) *Session {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(ttl),
		Status:       SessionStatusActive,
		ttl:          ttl,
	}
}

// Touch updates the last active timestamp and extends expiration
func (s *Session) Touch() {
	s.LastActiveAt = time.Now()
	s.ExpiresAt = s.LastActiveAt.Add(s.ttl)
}

// End marks the session as ended
func (s *Session) End() {
	if s.Status == SessionStatusEnded {
		return
	}
	now := time.Now()
	s.Status = SessionStatusEnded
	s.EndedAt = &now
}

// IsExpired checks if the session has expired or ended
func (s Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt) || s.Status != SessionStatusActive
}

// EndedBefore reports whether the session ended before t
func (s Session) EndedBefore(t time.Time) bool {
	return s.EndedAt != nil && s.EndedAt.Before(t)
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if s.Status != SessionStatusActive && s.Status != SessionStatusEnded {
		return errors.New("invalid session status")
	}
	return nil
}
