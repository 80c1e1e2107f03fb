package repositories

import (
	"context"

	"github.com/satriahrh/voicechat/domain/entities"
)

// TranscriptSource is a speech-to-text capability seen from the orchestrator:
// a live transcript plus a listening flag, with start/stop controls.
type TranscriptSource interface {
	// Subscribe registers fn for every transcript update and returns a
	// function that removes it.
	Subscribe(fn func(entities.TranscriptUpdate)) (unsubscribe func())
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
}

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// InitTranscribeStreaming initializes a streaming transcription session.
	// onInterim, when non-nil, receives partial transcripts.
	InitTranscribeStreaming(ctx context.Context, config AudioConfig, onInterim func(string)) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

type SpeechToTextStreaming interface {
	Stream(data []byte) error
	End() (string, error)
}
