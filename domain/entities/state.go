package entities

// State is an immutable snapshot of one conversation.
// An empty Error means no failure is being shown.
type State struct {
	Conversation []ConversationTurn `json:"conversation"`
	Thinking     bool               `json:"thinking"`
	Speaking     bool               `json:"speaking"`
	Error        string             `json:"error,omitempty"`
}

// HasError reports whether the last submission failed
func (s State) HasError() bool {
	return s.Error != ""
}

// Clone returns a copy that shares nothing with s
func (s State) Clone() State {
	c := s
	if s.Conversation == nil {
		return c
	}
	c.Conversation = make([]ConversationTurn, len(s.Conversation))
	copy(c.Conversation, s.Conversation)
	return c
}

// Action is a state transition accepted by Reduce
type Action interface {
	action()
}

// SubmitStarted marks a request in flight, clears the previous error and
// appends the user's turn.
type SubmitStarted struct{ Message string }

// ReplyReceived appends the assistant's reply
type ReplyReceived struct{ Reply string }

// SubmitFailed records the failure message for display
type SubmitFailed struct{ Message string }

// SubmitSettled ends the request regardless of outcome
type SubmitSettled struct{}

// SpeakingStarted marks audio playback in progress
type SpeakingStarted struct{}

// SpeakingStopped marks playback finished or cancelled
type SpeakingStopped struct{}

func (SubmitStarted) action()   {}
func (ReplyReceived) action()   {}
func (SubmitFailed) action()    {}
func (SubmitSettled) action()   {}
func (SpeakingStarted) action() {}
func (SpeakingStopped) action() {}

// Reduce applies a to s and returns the next snapshot. s is never modified.
func Reduce(s State, a Action) State {
	next := s
	switch a := a.(type) {
	case SubmitStarted:
		next.Thinking = true
		next.Error = ""
		next.Conversation = appendTurn(s.Conversation, UserTurn(a.Message))
	case ReplyReceived:
		next.Conversation = appendTurn(s.Conversation, AssistantTurn(a.Reply))
	case SubmitFailed:
		next.Error = a.Message
	case SubmitSettled:
		next.Thinking = false
	case SpeakingStarted:
		next.Speaking = true
	case SpeakingStopped:
		next.Speaking = false
	}
	return next
}

// appendTurn never writes into the backing array of turns
func appendTurn(turns []ConversationTurn, turn ConversationTurn) []ConversationTurn {
	return append(turns[:len(turns):len(turns)], turn)
}

// Equal reports whether two snapshots describe the same state
func (s State) Equal(o State) bool {
	if s.Thinking != o.Thinking || s.Speaking != o.Speaking || s.Error != o.Error {
		return false
	}
	if len(s.Conversation) != len(o.Conversation) {
		return false
	}
	for i := range s.Conversation {
		if s.Conversation[i] != o.Conversation[i] {
			return false
		}
	}
	return true
}
