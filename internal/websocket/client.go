package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/adapters/stt"
	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks
)

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and a live session.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// done is closed once the connection is shutting down
	done      chan struct{}
	closeOnce sync.Once

	sessionID string
	live      *LiveSession
	validator *MessageValidator

	logger *zap.Logger
}

// HandleWebSocketWithAuth upgrades the request for an already authenticated
// session and starts the pumps.
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, sessionID string, logger *zap.Logger) error {
	live, ok := hub.Session(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if live.Snapshot().IsExpired() {
		return ErrSessionEnded
	}

	conn, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan WriteData, 256),
		done:      make(chan struct{}),
		sessionID: sessionID,
		live:      live,
		validator: NewMessageValidator(),
		logger:    logger.With(zap.String("sessionID", sessionID)),
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	client.hub.register <- client
	go client.readPump()

	return nil
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// enqueue hands data to the write pump. It fails once the connection closes.
func (c *Client) enqueue(data WriteData) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

func (c *Client) sendJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (c *Client) sendError(code, message string) {
	if err := c.sendJSON(NewErrorMessage(code, message)); err != nil {
		c.logger.Debug("Failed to send error message", zap.Error(err))
	}
}

// readPump pumps messages from the websocket connection to the session.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		select {
		case <-c.done:
			return
		default:
		}
		c.live.Touch()

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the session to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// processMessage processes incoming control messages from the page
func (c *Client) processMessage(message []byte) {
	msg, err := c.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message", zap.Error(err))
		c.sendError(ErrorCodeInvalidMessage, err.Error())
		return
	}

	switch m := msg.(type) {
	case *TranscriptMessage:
		c.handleTranscript(m)
	case *ListeningStartMessage:
		c.handleListeningStart(m)
	case *ListeningEndMessage:
		c.handleListeningEnd()
	case *SpeechEndedMessage:
		c.handleSpeechEnded(m)
	case *StopSpeakingMessage:
		c.live.orchestrator.StopSpeaking()
	case *PingMessage:
		c.sendJSON(NewPongMessage(m.Data))
	}
}

// handleTranscript applies a transcript recognized by the page
func (c *Client) handleTranscript(m *TranscriptMessage) {
	if c.live.streaming != nil {
		c.sendError(ErrorCodeUnsupported, "transcripts are recognized by the server")
		return
	}
	c.live.feed.Publish(entities.TranscriptUpdate{Transcript: m.Transcript, Listening: m.Listening})
}

// handleListeningStart raises the listening flag. The microphone cannot be
// opened while a reply is pending.
func (c *Client) handleListeningStart(m *ListeningStartMessage) {
	if c.live.orchestrator.State().Thinking {
		c.sendError(ErrorCodeBusy, "waiting for a reply")
		return
	}

	if c.live.streaming == nil {
		c.live.feed.StartListening(c.live.ctx)
		return
	}

	c.live.streaming.Configure(repositories.AudioConfig{
		SampleRate: m.SampleRate,
		Encoding:   m.Encoding,
		Language:   m.Language,
	})
	if err := c.live.streaming.StartListening(c.live.ctx); err != nil {
		c.logger.Error("Failed to start recognition", zap.Error(err))
		c.sendError(ErrorCodeSpeechToText, "failed to start listening")
		return
	}
	c.logger.Info("Listening started")
}

// handleListeningEnd lowers the listening flag. With server side recognition
// this waits for the final transcript.
func (c *Client) handleListeningEnd() {
	if c.live.streaming == nil {
		c.live.feed.StopListening(c.live.ctx)
		return
	}

	if err := c.live.streaming.StopListening(c.live.ctx); err != nil {
		if errors.Is(err, stt.ErrNotListening) {
			return
		}
		c.logger.Warn("Recognition failed", zap.Error(err))
		c.sendError(ErrorCodeSpeechToText, "could not recognize speech")
		return
	}
	c.logger.Info("Listening ended")
}

func (c *Client) handleSpeechEnded(m *SpeechEndedMessage) {
	if c.live.clientSpeaker == nil {
		return
	}
	if !c.live.clientSpeaker.Ended(m.UtteranceID) {
		c.logger.Debug("Unknown utterance ended", zap.String("utteranceID", m.UtteranceID))
	}
}

// processBinaryAudioChunk forwards microphone audio to the recognizer
func (c *Client) processBinaryAudioChunk(data []byte) {
	if c.live.streaming == nil {
		c.logger.Warn("Received audio but speech is recognized by the page", zap.Int("size", len(data)))
		return
	}

	if err := c.live.streaming.Write(data); err != nil {
		if errors.Is(err, stt.ErrNotListening) {
			c.logger.Warn("Received audio chunk while not listening", zap.Int("size", len(data)))
			return
		}
		c.logger.Error("Failed to stream audio data", zap.Error(err))
	}
}
