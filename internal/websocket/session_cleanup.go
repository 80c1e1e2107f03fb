package websocket

import (
	"time"

	"go.uber.org/zap"
)

// SessionCleanupService periodically ends expired sessions and drops ended
// ones from memory
type SessionCleanupService struct {
	hub      *Hub
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewSessionCleanupService creates a new session cleanup service
func NewSessionCleanupService(hub *Hub, interval time.Duration, logger *zap.Logger) *SessionCleanupService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionCleanupService{
		hub:      hub,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started", zap.Duration("interval", s.interval))
}

// Stop gracefully stops the cleanup service
func (s *SessionCleanupService) Stop() {
	close(s.stopChan)
	<-s.doneChan
	s.logger.Info("Session cleanup service stopped")
}

func (s *SessionCleanupService) cleanupLoop() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			s.runCleanup(now)
		}
	}
}

func (s *SessionCleanupService) runCleanup(now time.Time) {
	ended, removed := s.hub.PruneSessions(now)
	if ended > 0 || removed > 0 {
		s.logger.Info("Session cleanup completed",
			zap.Int("ended", ended),
			zap.Int("removed", removed),
			zap.Int("remaining", s.hub.SessionCount()))
	}
}
