package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicechat/adapters"
	"github.com/satriahrh/voicechat/adapters/stt"
	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
	"github.com/satriahrh/voicechat/usecase"
)

type stubChat struct {
	reply   string
	err     error
	release chan struct{}
}

func (s *stubChat) Complete(ctx context.Context, req repositories.ChatRequest) (string, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply, s.err
}

type stubVoice struct{}

func (stubVoice) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	out := make(chan []byte, 2)
	out <- []byte{1, 2, 3}
	out <- []byte{4, 5}
	close(out)
	return out, nil
}

type testEnv struct {
	hub     *Hub
	journal *adapters.MemoryTurnJournal
	server  *httptest.Server
}

func setupTestHub(t *testing.T, chat repositories.ChatCompleter, recognizer repositories.SpeechToText, voice repositories.TextToSpeech) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	journal := adapters.NewMemoryTurnJournal()
	conversations := usecase.NewConversationService(chat, journal, usecase.ChatParams{}, logger)
	hub := NewHub(conversations, recognizer, voice, HubConfig{
		Audio:       repositories.AudioConfig{SampleRate: 16000, Encoding: "LINEAR16", Language: "en-US"},
		AudioFormat: "pcm_24000",
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocketWithAuth(hub, c, c.QueryParam("session"), zap.NewNop())
	})
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return &testEnv{hub: hub, journal: journal, server: server}
}

func (env *testEnv) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?session=" + sessionID
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

type inbound struct {
	Type        MessageType `json:"type"`
	State       *StateView  `json:"state"`
	UtteranceID string      `json:"utterance_id"`
	Text        string      `json:"text"`
	Transcript  string      `json:"transcript"`
	Listening   bool        `json:"listening"`
	Code        string      `json:"error_code"`
	binary      []byte
}

func readMessage(t *testing.T, ws *websocket.Conn) inbound {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	messageType, payload, err := ws.ReadMessage()
	require.NoError(t, err)

	if messageType == websocket.BinaryMessage {
		return inbound{binary: payload}
	}
	var msg inbound
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

// readUntil collects messages up to and including the first one matching
func readUntil(t *testing.T, ws *websocket.Conn, match func(inbound) bool) []inbound {
	t.Helper()
	var msgs []inbound
	for {
		msg := readMessage(t, ws)
		msgs = append(msgs, msg)
		if match(msg) {
			return msgs
		}
	}
}

func isType(mt MessageType) func(inbound) bool {
	return func(m inbound) bool { return m.Type == mt }
}

func sendJSON(t *testing.T, ws *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

func TestHub_CreateSession(t *testing.T) {
	env := setupTestHub(t, &stubChat{reply: "ok"}, nil, nil)

	session := env.hub.CreateSession()

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, entities.SessionStatusActive, session.Status)

	live, ok := env.hub.Session(session.ID)
	require.True(t, ok)
	assert.False(t, live.Connected())
	assert.Equal(t, entities.State{}, live.Orchestrator().State())
	assert.Equal(t, 1, env.hub.SessionCount())
}

func TestHub_BrowserSpeechRoundTrip(t *testing.T) {
	env := setupTestHub(t, &stubChat{reply: "Paris is the capital of France."}, nil, nil)
	session := env.hub.CreateSession()
	ws := env.dial(t, session.ID)

	initial := readMessage(t, ws)
	require.Equal(t, MessageTypeState, initial.Type)
	assert.Empty(t, initial.State.Conversation)
	assert.Nil(t, initial.State.Error)

	sendJSON(t, ws, map[string]interface{}{"type": "listening_start"})
	sendJSON(t, ws, map[string]interface{}{"type": "transcript", "transcript": "What is the", "listening": true})
	sendJSON(t, ws, map[string]interface{}{"type": "transcript", "transcript": "What is the capital of France?", "listening": true})
	sendJSON(t, ws, map[string]interface{}{"type": "listening_end"})

	msgs := readUntil(t, ws, isType(MessageTypeSpeak))
	speak := msgs[len(msgs)-1]
	assert.Equal(t, "Paris is the capital of France.", speak.Text)
	require.NotEmpty(t, speak.UtteranceID)

	var states []StateView
	for _, m := range msgs {
		if m.Type == MessageTypeState {
			states = append(states, *m.State)
		}
	}
	require.Len(t, states, 4)
	assert.True(t, states[0].Thinking)
	assert.Equal(t, []entities.ConversationTurn{entities.UserTurn("What is the capital of France?")}, states[0].Conversation)
	assert.Len(t, states[1].Conversation, 2)
	assert.False(t, states[2].Thinking)
	assert.True(t, states[3].Speaking)

	sendJSON(t, ws, map[string]interface{}{"type": "speech_ended", "utterance_id": speak.UtteranceID})
	final := readUntil(t, ws, isType(MessageTypeState))
	assert.False(t, final[len(final)-1].State.Speaking)

	history, err := env.journal.History(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestHub_ChatFailureIsReported(t *testing.T) {
	env := setupTestHub(t, &stubChat{err: assert.AnError}, nil, nil)
	session := env.hub.CreateSession()
	ws := env.dial(t, session.ID)
	readMessage(t, ws)

	sendJSON(t, ws, map[string]interface{}{"type": "transcript", "transcript": "hello", "listening": false})

	msgs := readUntil(t, ws, func(m inbound) bool {
		return m.Type == MessageTypeState && m.State.Error != nil && !m.State.Thinking
	})
	last := msgs[len(msgs)-1].State
	assert.Equal(t, assert.AnError.Error(), *last.Error)
	assert.Len(t, last.Conversation, 1)
	assert.False(t, last.Speaking)
}

func TestHub_ListeningWhileThinkingIsBusy(t *testing.T) {
	chat := &stubChat{reply: "done", release: make(chan struct{})}
	env := setupTestHub(t, chat, nil, nil)
	session := env.hub.CreateSession()
	ws := env.dial(t, session.ID)
	readMessage(t, ws)

	sendJSON(t, ws, map[string]interface{}{"type": "transcript", "transcript": "hello", "listening": false})
	readUntil(t, ws, func(m inbound) bool { return m.Type == MessageTypeState && m.State.Thinking })

	sendJSON(t, ws, map[string]interface{}{"type": "listening_start"})
	msgs := readUntil(t, ws, isType(MessageTypeError))
	assert.Equal(t, ErrorCodeBusy, msgs[len(msgs)-1].Code)

	close(chat.release)
	readUntil(t, ws, isType(MessageTypeSpeak))
}

func TestHub_StopSpeaking(t *testing.T) {
	env := setupTestHub(t, &stubChat{reply: "a long answer"}, nil, nil)
	session := env.hub.CreateSession()
	ws := env.dial(t, session.ID)
	readMessage(t, ws)

	sendJSON(t, ws, map[string]interface{}{"type": "transcript", "transcript": "tell me a story", "listening": false})
	readUntil(t, ws, isType(MessageTypeSpeak))

	sendJSON(t, ws, map[string]interface{}{"type": "stop_speaking"})
	msgs := readUntil(t, ws, isType(MessageTypeState))

	assert.Equal(t, MessageTypeCancelSpeech, msgs[0].Type)
	assert.False(t, msgs[len(msgs)-1].State.Speaking)
}

func TestHub_ServerSpeechRoundTrip(t *testing.T) {
	logger := zaptest.NewLogger(t)
	env := setupTestHub(t, &stubChat{reply: "Paris is the capital of France."}, stt.NewMockSpeechToText(logger), stubVoice{})
	session := env.hub.CreateSession()
	ws := env.dial(t, session.ID)
	readMessage(t, ws)

	sendJSON(t, ws, map[string]interface{}{"type": "listening_start", "sample_rate": 16000})
	started := readUntil(t, ws, isType(MessageTypeTranscript))
	assert.True(t, started[len(started)-1].Listening)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0, 1}))
	interim := readUntil(t, ws, isType(MessageTypeTranscript))
	assert.Equal(t, "What", interim[len(interim)-1].Transcript)

	sendJSON(t, ws, map[string]interface{}{"type": "listening_end"})
	final := readUntil(t, ws, func(m inbound) bool { return m.Type == MessageTypeTranscript && !m.Listening })
	assert.Equal(t, "What is the capital of France?", final[len(final)-1].Transcript)

	msgs := readUntil(t, ws, isType(MessageTypeSpeakingEnd))
	var audio []byte
	var sawStart bool
	for _, m := range msgs {
		if m.Type == MessageTypeSpeakingStart {
			sawStart = true
		}
		audio = append(audio, m.binary...)
	}
	assert.True(t, sawStart)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, audio)

	done := readUntil(t, ws, func(m inbound) bool { return m.Type == MessageTypeState && !m.State.Speaking })
	assert.Len(t, done[len(done)-1].State.Conversation, 2)
}

func TestHub_TranscriptRejectedWithServerSpeech(t *testing.T) {
	logger := zaptest.NewLogger(t)
	env := setupTestHub(t, &stubChat{reply: "ok"}, stt.NewMockSpeechToText(logger), nil)
	session := env.hub.CreateSession()
	ws := env.dial(t, session.ID)
	readMessage(t, ws)

	sendJSON(t, ws, map[string]interface{}{"type": "transcript", "transcript": "hi", "listening": false})
	msgs := readUntil(t, ws, isType(MessageTypeError))
	assert.Equal(t, ErrorCodeUnsupported, msgs[len(msgs)-1].Code)
}

func TestHub_PingPongAndInvalidMessage(t *testing.T) {
	env := setupTestHub(t, &stubChat{reply: "ok"}, nil, nil)
	session := env.hub.CreateSession()
	ws := env.dial(t, session.ID)
	readMessage(t, ws)

	sendJSON(t, ws, map[string]interface{}{"type": "ping", "data": "42"})
	assert.Equal(t, MessageTypePong, readMessage(t, ws).Type)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	msg := readMessage(t, ws)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Equal(t, ErrorCodeInvalidMessage, msg.Code)
}

func TestHub_DisconnectEndsSession(t *testing.T) {
	env := setupTestHub(t, &stubChat{reply: "ok"}, nil, nil)
	session := env.hub.CreateSession()
	ws := env.dial(t, session.ID)
	readMessage(t, ws)

	live, _ := env.hub.Session(session.ID)
	require.Eventually(t, live.Connected, time.Second, 10*time.Millisecond)

	ws.Close()

	require.Eventually(t, func() bool {
		return live.Snapshot().Status == entities.SessionStatusEnded
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, live.Connected())

	// An ended session cannot be joined again
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?session=" + session.ID
	_, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Error(t, err)
}

func TestHub_NewConnectionReplacesOld(t *testing.T) {
	env := setupTestHub(t, &stubChat{reply: "ok"}, nil, nil)
	session := env.hub.CreateSession()

	first := env.dial(t, session.ID)
	readMessage(t, first)
	second := env.dial(t, session.ID)
	readMessage(t, second)

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	live, _ := env.hub.Session(session.ID)
	assert.Equal(t, entities.SessionStatusActive, live.Snapshot().Status)

	sendJSON(t, second, map[string]interface{}{"type": "ping"})
	assert.Equal(t, MessageTypePong, readMessage(t, second).Type)
}

func TestHub_UnknownSession(t *testing.T) {
	env := setupTestHub(t, &stubChat{reply: "ok"}, nil, nil)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?session=missing"
	_, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Error(t, err)
}

func TestHub_CheckOrigin(t *testing.T) {
	hub := NewHub(nil, nil, nil, HubConfig{AllowedOrigins: []string{"https://chat.example.com"}}, zap.NewNop())

	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://chat.example.com")
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, hub.checkOrigin(req))
}
