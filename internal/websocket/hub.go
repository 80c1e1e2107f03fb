package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/adapters/stt"
	"github.com/satriahrh/voicechat/adapters/tts"
	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
	"github.com/satriahrh/voicechat/usecase"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session has ended")
	ErrNoClient        = errors.New("no client connected")
	ErrClientClosed    = errors.New("client connection closed")
)

// HubConfig tunes session lifetime and server side audio
type HubConfig struct {
	// SessionTTL is how long an idle session stays valid
	SessionTTL time.Duration
	// Retention is how long an ended session stays readable
	Retention time.Duration
	// AllowedOrigins for the websocket upgrade. "*" allows any.
	AllowedOrigins []string
	// Audio is the default recognition config for server side STT
	Audio repositories.AudioConfig
	// AudioFormat names the format of server side TTS audio
	AudioFormat string
}

// Hub maintains the live sessions and the clients attached to them.
type Hub struct {
	sessions map[string]*LiveSession
	mu       sync.RWMutex

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	conversations *usecase.ConversationService
	recognizer    repositories.SpeechToText // nil when the browser recognizes speech
	voice         repositories.TextToSpeech // nil when the browser speaks
	config        HubConfig
	upgrader      websocket.Upgrader

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub. recognizer and voice are optional; when
// nil the connected page does that work and talks to the hub in text.
func NewHub(
	conversations *usecase.ConversationService,
	recognizer repositories.SpeechToText,
	voice repositories.TextToSpeech,
	config HubConfig,
	logger *zap.Logger,
) *Hub {
	if config.SessionTTL <= 0 {
		config.SessionTTL = entities.DefaultSessionTTL
	}
	if config.Retention <= 0 {
		config.Retention = 5 * time.Minute
	}

	h := &Hub{
		sessions:      make(map[string]*LiveSession),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		conversations: conversations,
		recognizer:    recognizer,
		voice:         voice,
		config:        config,
		logger:        logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("Rejected websocket origin", zap.String("origin", origin))
	return false
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			if !client.live.attach(client) {
				h.logger.Warn("Client for ended session", zap.String("sessionID", client.sessionID))
				client.close()
				continue
			}
			h.logger.Info("Client registered", zap.String("sessionID", client.sessionID))

		case client := <-h.unregister:
			if client.live.detach(client) {
				client.live.end()
				h.logger.Info("Client unregistered, session ended", zap.String("sessionID", client.sessionID))
			}
			client.close()
		}
	}
}

// CreateSession starts a new conversation and returns its session
func (h *Hub) CreateSession() entities.Session {
	session := entities.NewSession(h.config.SessionTTL)
	live := h.newLiveSession(session)

	h.mu.Lock()
	h.sessions[session.ID] = live
	h.mu.Unlock()

	h.logger.Info("Session created", zap.String("sessionID", session.ID))
	return *session
}

// Session returns a live or recently ended session
func (h *Hub) Session(id string) (*LiveSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	live, ok := h.sessions[id]
	return live, ok
}

// SessionCount returns the number of sessions held in memory
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// PruneSessions ends sessions whose TTL passed and drops ended sessions older
// than the retention.
func (h *Hub) PruneSessions(now time.Time) (ended, removed int) {
	h.mu.RLock()
	lives := make([]*LiveSession, 0, len(h.sessions))
	for _, live := range h.sessions {
		lives = append(lives, live)
	}
	h.mu.RUnlock()

	cutoff := now.Add(-h.config.Retention)
	for _, live := range lives {
		snapshot := live.Snapshot()
		if snapshot.Status == entities.SessionStatusActive && now.After(snapshot.ExpiresAt) {
			live.end()
			ended++
			continue
		}
		if snapshot.EndedBefore(cutoff) {
			h.mu.Lock()
			delete(h.sessions, snapshot.ID)
			h.mu.Unlock()
			removed++
		}
	}
	return ended, removed
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, live := range h.sessions {
		live.end()
	}
}

func (h *Hub) newLiveSession(session *entities.Session) *LiveSession {
	ctx, cancel := context.WithCancel(context.Background())
	live := &LiveSession{
		session: session,
		ctx:     ctx,
		cancel:  cancel,
		logger:  h.logger.With(zap.String("sessionID", session.ID)),
	}

	var source repositories.TranscriptSource
	if h.recognizer != nil {
		live.streaming = stt.NewStreamingSource(h.recognizer, h.config.Audio, live.logger)
		live.feed = live.streaming.Feed
		source = live.streaming
		live.unsubscribes = append(live.unsubscribes, live.streaming.Subscribe(live.echoTranscript))
	} else {
		live.feed = stt.NewFeed()
		source = live.feed
	}

	var speaker repositories.Speaker
	if h.voice != nil {
		speaker = tts.NewAudioSpeaker(h.voice, live, h.config.AudioFormat, live.logger)
	} else {
		live.clientSpeaker = NewClientSpeaker(live.sendJSON, live.logger)
		speaker = live.clientSpeaker
	}

	live.orchestrator = h.conversations.Start(ctx, session.ID, speaker)
	live.unsubscribes = append(live.unsubscribes,
		live.orchestrator.Subscribe(live.pushState),
		live.orchestrator.Attach(source),
	)
	return live
}

// LiveSession is a session together with its running conversation
type LiveSession struct {
	mu      sync.Mutex
	session *entities.Session
	client  *Client

	ctx    context.Context
	cancel context.CancelFunc

	orchestrator  *usecase.Orchestrator
	feed          *stt.Feed
	streaming     *stt.StreamingSource // nil unless the server recognizes speech
	clientSpeaker *ClientSpeaker       // nil unless the page speaks
	unsubscribes  []func()

	logger *zap.Logger
}

// Snapshot returns a copy of the session record
func (l *LiveSession) Snapshot() entities.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.session
}

// Orchestrator returns the conversation of this session
func (l *LiveSession) Orchestrator() *usecase.Orchestrator {
	return l.orchestrator
}

// Connected reports whether a client is attached
func (l *LiveSession) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client != nil
}

// Touch extends the session
func (l *LiveSession) Touch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session.Touch()
}

// attach makes c the session's client, replacing any previous one
func (l *LiveSession) attach(c *Client) bool {
	l.mu.Lock()
	if l.session.IsExpired() {
		l.mu.Unlock()
		return false
	}
	previous := l.client
	l.client = c
	l.session.Touch()
	l.mu.Unlock()

	if previous != nil {
		l.logger.Info("Client replaced by a new connection")
		previous.close()
	}

	c.sendJSON(NewStateMessage(l.orchestrator.State()))
	return true
}

// detach removes c if it is still the session's client
func (l *LiveSession) detach(c *Client) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != c {
		return false
	}
	l.client = nil
	return true
}

// end stops the conversation and marks the session ended
func (l *LiveSession) end() {
	l.mu.Lock()
	if l.session.Status == entities.SessionStatusEnded {
		l.mu.Unlock()
		return
	}
	l.session.End()
	client := l.client
	l.client = nil
	l.mu.Unlock()

	for _, unsubscribe := range l.unsubscribes {
		unsubscribe()
	}
	l.cancel()
	l.orchestrator.Close()
	if l.streaming != nil && l.streaming.Listening() {
		l.streaming.StopListening(context.Background())
	}
	if client != nil {
		client.close()
	}
	l.logger.Info("Session ended")
}

func (l *LiveSession) currentClient() *Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client
}

func (l *LiveSession) sendJSON(v interface{}) error {
	c := l.currentClient()
	if c == nil {
		return ErrNoClient
	}
	return c.sendJSON(v)
}

func (l *LiveSession) pushState(s entities.State) {
	if err := l.sendJSON(NewStateMessage(s)); err != nil && !errors.Is(err, ErrNoClient) {
		l.logger.Warn("Failed to push state", zap.Error(err))
	}
}

func (l *LiveSession) echoTranscript(u entities.TranscriptUpdate) {
	l.sendJSON(NewTranscriptMessage(u))
}

// Begin implements tts.AudioSink
func (l *LiveSession) Begin(utteranceID, format string) error {
	return l.sendJSON(NewSpeakingStartMessage(utteranceID, format))
}

// Write implements tts.AudioSink
func (l *LiveSession) Write(chunk []byte) error {
	c := l.currentClient()
	if c == nil {
		return ErrNoClient
	}
	return c.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: chunk})
}

// End implements tts.AudioSink
func (l *LiveSession) End(utteranceID string) error {
	return l.sendJSON(NewSpeakingEndMessage(utteranceID))
}
