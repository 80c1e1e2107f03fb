package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
)

var (
	ErrAlreadyListening = errors.New("already listening")
	ErrNotListening     = errors.New("not listening")
)

// StreamingSource is a TranscriptSource backed by a streaming recognizer.
// Audio arrives through Write between StartListening and StopListening.
// Interim results are published with the listening flag raised; the final
// transcript is published once the recognizer finishes.
type StreamingSource struct {
	*Feed

	recognizer repositories.SpeechToText
	logger     *zap.Logger

	mu     sync.Mutex
	config repositories.AudioConfig
	stream repositories.SpeechToTextStreaming
}

var _ repositories.TranscriptSource = (*StreamingSource)(nil)

// NewStreamingSource creates a source that recognizes audio with recognizer
func NewStreamingSource(recognizer repositories.SpeechToText, config repositories.AudioConfig, logger *zap.Logger) *StreamingSource {
	return &StreamingSource{
		Feed:       NewFeed(),
		recognizer: recognizer,
		config:     config,
		logger:     logger,
	}
}

// Configure replaces the audio configuration used by the next StartListening.
// Zero fields keep their current value.
func (s *StreamingSource) Configure(config repositories.AudioConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if config.SampleRate > 0 {
		s.config.SampleRate = config.SampleRate
	}
	if config.Encoding != "" {
		s.config.Encoding = config.Encoding
	}
	if config.Language != "" {
		s.config.Language = config.Language
	}
}

// Listening reports whether a recognition stream is open
func (s *StreamingSource) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// StartListening opens a recognition stream and clears the transcript
func (s *StreamingSource) StartListening(ctx context.Context) error {
	s.mu.Lock()
	if s.stream != nil {
		s.mu.Unlock()
		return ErrAlreadyListening
	}
	config := s.config
	s.mu.Unlock()

	stream, err := s.recognizer.InitTranscribeStreaming(ctx, config, func(interim string) {
		s.Publish(entities.TranscriptUpdate{Transcript: interim, Listening: true})
	})
	if err != nil {
		return fmt.Errorf("failed to start recognition: %w", err)
	}

	s.mu.Lock()
	if s.stream != nil {
		s.mu.Unlock()
		stream.End()
		return ErrAlreadyListening
	}
	s.stream = stream
	s.mu.Unlock()

	s.logger.Debug("Recognition started",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	s.Publish(entities.TranscriptUpdate{Listening: true})
	return nil
}

// Write forwards an audio chunk to the open stream
func (s *StreamingSource) Write(data []byte) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return ErrNotListening
	}
	return stream.Stream(data)
}

// StopListening closes the stream and publishes the final transcript. When
// recognition fails an empty transcript is published so that nothing is
// submitted.
func (s *StreamingSource) StopListening(ctx context.Context) error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream == nil {
		return ErrNotListening
	}

	transcript, err := stream.End()
	if err != nil {
		s.logger.Warn("Recognition failed", zap.Error(err))
		s.Publish(entities.TranscriptUpdate{})
		return err
	}

	s.logger.Debug("Recognition finished", zap.Int("length", len(transcript)))
	s.Publish(entities.TranscriptUpdate{Transcript: transcript})
	return nil
}
