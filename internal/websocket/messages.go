package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/satriahrh/voicechat/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Messages sent by the page
const (
	MessageTypeTranscript     MessageType = "transcript"
	MessageTypeListeningStart MessageType = "listening_start"
	MessageTypeListeningEnd   MessageType = "listening_end"
	MessageTypeSpeechEnded    MessageType = "speech_ended"
	MessageTypeStopSpeaking   MessageType = "stop_speaking"
	MessageTypePing           MessageType = "ping"
)

// Messages sent by the server
const (
	MessageTypeState         MessageType = "state"
	MessageTypeSpeak         MessageType = "speak"
	MessageTypeCancelSpeech  MessageType = "cancel_speech"
	MessageTypeSpeakingStart MessageType = "speaking_start"
	MessageTypeSpeakingEnd   MessageType = "speaking_end"
	MessageTypePong          MessageType = "pong"
	MessageTypeError         MessageType = "error"
)

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeUnsupported    = "unsupported"
	ErrorCodeBusy           = "busy"
	ErrorCodeSpeechToText   = "speech_to_text_failed"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}

// TranscriptMessage carries the live transcript and the listening flag. The
// page sends it when it recognizes speech; the server sends it when it does.
type TranscriptMessage struct {
	BaseMessage
	Transcript string `json:"transcript"`
	Listening  bool   `json:"listening"`
}

// ListeningStartMessage opens the microphone. The audio fields apply to
// server side recognition only.
type ListeningStartMessage struct {
	BaseMessage
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Language   string `json:"language,omitempty"`
}

type ListeningEndMessage struct {
	BaseMessage
}

// SpeechEndedMessage reports that the page finished speaking an utterance
type SpeechEndedMessage struct {
	BaseMessage
	UtteranceID string `json:"utterance_id"`
}

type StopSpeakingMessage struct {
	BaseMessage
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// StateView is the wire form of the conversation state. Error is null when
// the last request did not fail.
type StateView struct {
	Conversation []entities.ConversationTurn `json:"conversation"`
	Thinking     bool                        `json:"thinking"`
	Speaking     bool                        `json:"speaking"`
	Error        *string                     `json:"error"`
}

// NewStateView converts a state snapshot
func NewStateView(s entities.State) StateView {
	view := StateView{
		Conversation: s.Conversation,
		Thinking:     s.Thinking,
		Speaking:     s.Speaking,
	}
	if view.Conversation == nil {
		view.Conversation = []entities.ConversationTurn{}
	}
	if s.HasError() {
		msg := s.Error
		view.Error = &msg
	}
	return view
}

// StateMessage is pushed on every state change
type StateMessage struct {
	BaseMessage
	State StateView `json:"state"`
}

// SpeakMessage asks the page to speak text
type SpeakMessage struct {
	BaseMessage
	UtteranceID string `json:"utterance_id"`
	Text        string `json:"text"`
}

// CancelSpeechMessage asks the page to stop speaking
type CancelSpeechMessage struct {
	BaseMessage
}

// SpeakingStartMessage precedes binary audio of one utterance
type SpeakingStartMessage struct {
	BaseMessage
	UtteranceID string `json:"utterance_id"`
	Format      string `json:"format,omitempty"`
}

// SpeakingEndMessage follows the last audio chunk of an utterance
type SpeakingEndMessage struct {
	BaseMessage
	UtteranceID string `json:"utterance_id"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses an incoming message into its typed form
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeTranscript:
		var msg TranscriptMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid transcript message: %w", err)
		}
		return &msg, nil

	case MessageTypeListeningStart:
		var msg ListeningStartMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid listening start message: %w", err)
		}
		if err := v.validateListeningStart(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeListeningEnd:
		return &ListeningEndMessage{BaseMessage: base}, nil

	case MessageTypeSpeechEnded:
		var msg SpeechEndedMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid speech ended message: %w", err)
		}
		if msg.UtteranceID == "" {
			return nil, fmt.Errorf("utterance_id is required")
		}
		return &msg, nil

	case MessageTypeStopSpeaking:
		return &StopSpeakingMessage{BaseMessage: base}, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	case "":
		return nil, fmt.Errorf("message type is required")

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// validateListeningStart validates the optional audio settings
func (v *MessageValidator) validateListeningStart(msg *ListeningStartMessage) error {
	if msg.SampleRate != 0 && (msg.SampleRate < 8000 || msg.SampleRate > 48000) {
		return fmt.Errorf("sample_rate must be between 8000 and 48000")
	}
	if msg.Encoding == "" {
		return nil
	}

	validEncodings := map[string]bool{
		"LINEAR16": true, "WAV": true, "FLAC": true, "MULAW": true, "OGG_OPUS": true, "WEBM_OPUS": true,
	}
	if !validEncodings[msg.Encoding] {
		return fmt.Errorf("encoding must be one of: LINEAR16, WAV, FLAC, MULAW, OGG_OPUS, WEBM_OPUS")
	}
	return nil
}

func NewStateMessage(s entities.State) *StateMessage {
	return &StateMessage{BaseMessage: newBase(MessageTypeState), State: NewStateView(s)}
}

func NewTranscriptMessage(u entities.TranscriptUpdate) *TranscriptMessage {
	return &TranscriptMessage{
		BaseMessage: newBase(MessageTypeTranscript),
		Transcript:  u.Transcript,
		Listening:   u.Listening,
	}
}

func NewSpeakMessage(utteranceID, text string) *SpeakMessage {
	return &SpeakMessage{BaseMessage: newBase(MessageTypeSpeak), UtteranceID: utteranceID, Text: text}
}

func NewCancelSpeechMessage() *CancelSpeechMessage {
	return &CancelSpeechMessage{BaseMessage: newBase(MessageTypeCancelSpeech)}
}

func NewSpeakingStartMessage(utteranceID, format string) *SpeakingStartMessage {
	return &SpeakingStartMessage{BaseMessage: newBase(MessageTypeSpeakingStart), UtteranceID: utteranceID, Format: format}
}

func NewSpeakingEndMessage(utteranceID string) *SpeakingEndMessage {
	return &SpeakingEndMessage{BaseMessage: newBase(MessageTypeSpeakingEnd), UtteranceID: utteranceID}
}

// NewErrorMessage creates a standardized error message
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{BaseMessage: newBase(MessageTypeError), Code: code, Message: message}
}

// NewPongMessage creates a pong response message
func NewPongMessage(data string) *PongMessage {
	return &PongMessage{BaseMessage: newBase(MessageTypePong), Data: data}
}
