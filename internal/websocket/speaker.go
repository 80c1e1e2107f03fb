package websocket

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/repositories"
)

// ClientSpeaker is a Speaker backed by the page's speech synthesis. Each
// utterance gets an id; the page reports it back with speech_ended.
type ClientSpeaker struct {
	send   func(v interface{}) error
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]func()
}

var _ repositories.Speaker = (*ClientSpeaker)(nil)

// NewClientSpeaker creates a speaker that delivers messages with send
func NewClientSpeaker(send func(v interface{}) error, logger *zap.Logger) *ClientSpeaker {
	return &ClientSpeaker{
		send:    send,
		logger:  logger,
		pending: make(map[string]func()),
	}
}

// Speak sends text to the page. onEnd runs when the page reports the end of
// this utterance.
func (s *ClientSpeaker) Speak(ctx context.Context, text string, onEnd func()) error {
	id := uuid.NewString()

	s.mu.Lock()
	s.pending[id] = onEnd
	s.mu.Unlock()

	if err := s.send(NewSpeakMessage(id, text)); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Ended runs the callback of utterance id. It reports false for unknown or
// cancelled utterances.
func (s *ClientSpeaker) Ended(id string) bool {
	s.mu.Lock()
	onEnd, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	if onEnd != nil {
		onEnd()
	}
	return true
}

// Cancel tells the page to stop and forgets every pending utterance
func (s *ClientSpeaker) Cancel() {
	s.mu.Lock()
	n := len(s.pending)
	s.pending = make(map[string]func())
	s.mu.Unlock()

	if n == 0 {
		return
	}
	if err := s.send(NewCancelSpeechMessage()); err != nil {
		s.logger.Debug("Failed to send cancel", zap.Error(err))
	}
}
