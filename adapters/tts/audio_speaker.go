package tts

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/repositories"
)

// AudioSink receives synthesized speech. Begin and End bracket the chunks of
// one utterance.
type AudioSink interface {
	Begin(utteranceID, format string) error
	Write(chunk []byte) error
	End(utteranceID string) error
}

// AudioSpeaker is a Speaker that synthesizes text and plays it into a sink.
// Only one utterance plays at a time; a new Speak cancels the previous one.
type AudioSpeaker struct {
	tts    repositories.TextToSpeech
	sink   AudioSink
	format string
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	playing sync.WaitGroup
}

var _ repositories.Speaker = (*AudioSpeaker)(nil)

// NewAudioSpeaker creates a speaker. format names the audio format produced
// by tts and is passed to the sink.
func NewAudioSpeaker(tts repositories.TextToSpeech, sink AudioSink, format string, logger *zap.Logger) *AudioSpeaker {
	return &AudioSpeaker{
		tts:    tts,
		sink:   sink,
		format: format,
		logger: logger,
	}
}

// Speak starts synthesis and returns once audio is flowing. onEnd runs after
// the last chunk reached the sink. It does not run when playback is cancelled.
func (s *AudioSpeaker) Speak(ctx context.Context, text string, onEnd func()) error {
	s.Cancel()

	playCtx, cancel := context.WithCancel(ctx)
	chunks, err := s.tts.ConvertTextToSpeech(playCtx, text)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to synthesize speech: %w", err)
	}

	utteranceID := uuid.NewString()
	if err := s.sink.Begin(utteranceID, s.format); err != nil {
		cancel()
		return fmt.Errorf("failed to start playback: %w", err)
	}

	s.mu.Lock()
	s.cancel = cancel
	s.playing.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.playing.Done()
		s.play(playCtx, utteranceID, chunks, onEnd)
	}()
	return nil
}

func (s *AudioSpeaker) play(ctx context.Context, utteranceID string, chunks <-chan []byte, onEnd func()) {
	logger := s.logger.With(zap.String("utteranceID", utteranceID))

	for chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		if err := s.sink.Write(chunk); err != nil {
			logger.Warn("Failed to write audio chunk", zap.Error(err))
			break
		}
	}

	if err := s.sink.End(utteranceID); err != nil {
		logger.Warn("Failed to end playback", zap.Error(err))
	}

	if ctx.Err() != nil {
		logger.Debug("Playback cancelled")
		return
	}
	if onEnd != nil {
		onEnd()
	}
}

// Cancel stops the current utterance. Safe to call when idle.
func (s *AudioSpeaker) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every started utterance has stopped
func (s *AudioSpeaker) Wait() {
	s.playing.Wait()
}
