package entities

import "time"

// Role identifies who produced a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one user message or one assistant reply.
// Turns are values; once appended to a conversation they are never changed.
type ConversationTurn struct {
	Role    Role   `json:"role" bson:"role"`
	Content string `json:"content" bson:"content"`
}

// UserTurn creates a turn for a submitted transcript
func UserTurn(content string) ConversationTurn {
	return ConversationTurn{Role: RoleUser, Content: content}
}

// AssistantTurn creates a turn for a received reply
func AssistantTurn(content string) ConversationTurn {
	return ConversationTurn{Role: RoleAssistant, Content: content}
}

// TranscriptUpdate is a single event from a speech-to-text source.
// The transcript is final exactly when Listening is false.
type TranscriptUpdate struct {
	Transcript string `json:"transcript"`
	Listening  bool   `json:"listening"`
}

// JournalEntry is the archived form of a turn
type JournalEntry struct {
	SessionID string    `json:"session_id" bson:"session_id"`
	Seq       int       `json:"seq" bson:"seq"`
	Role      Role      `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Turn converts the entry back into a conversation turn
func (e JournalEntry) Turn() ConversationTurn {
	return ConversationTurn{Role: e.Role, Content: e.Content}
}
