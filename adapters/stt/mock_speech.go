package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/repositories"
)

// MockSpeechToText recognizes a fixed phrase whose length depends on how much
// audio was streamed. It lets the server run without cloud credentials.
type MockSpeechToText struct {
	logger *zap.Logger
}

type MockSpeechToTextStream struct {
	logger    *zap.Logger
	onInterim func(string)

	mu       sync.Mutex
	received int
}

var mockPhrase = strings.Fields("What is the capital of France?")

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig, onInterim func(string)) (repositories.SpeechToTextStreaming, error) {
	s.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	return &MockSpeechToTextStream{logger: s.logger, onInterim: onInterim}, nil
}

// Stream counts audio and emits one more word of the phrase per chunk
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	m.mu.Lock()
	m.received++
	words := m.words()
	m.mu.Unlock()

	m.logger.Debug("Processing mock audio chunk", zap.Int("size", len(data)))
	if m.onInterim != nil {
		m.onInterim(words)
	}
	return nil
}

// End returns the whole phrase once any audio was received
func (m *MockSpeechToTextStream) End() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.received == 0 {
		return "", fmt.Errorf("no audio data received")
	}
	return strings.Join(mockPhrase, " "), nil
}

func (m *MockSpeechToTextStream) words() string {
	n := min(m.received, len(mockPhrase))
	return strings.Join(mockPhrase[:n], " ")
}
