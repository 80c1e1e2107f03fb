package api

import (
	"time"

	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/internal/websocket"
)

// CreateSessionResponse is returned when a page opens a session
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionResponse describes a session and its conversation
type SessionResponse struct {
	Session   entities.Session    `json:"session"`
	Connected bool                `json:"connected"`
	State     websocket.StateView `json:"state"`
}

// TurnsResponse lists the archived turns of a session
type TurnsResponse struct {
	SessionID string                  `json:"session_id"`
	Turns     []entities.JournalEntry `json:"turns"`
}

// SendMessageRequest submits a typed message as if it had been spoken
type SendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessageResponse carries the assistant's reply
type SendMessageResponse struct {
	Reply string              `json:"reply"`
	State websocket.StateView `json:"state"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
