package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicechat/adapters"
	"github.com/satriahrh/voicechat/domain"
	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
	"github.com/satriahrh/voicechat/internal/auth"
	"github.com/satriahrh/voicechat/internal/websocket"
	"github.com/satriahrh/voicechat/usecase"
)

type stubChat struct {
	reply string
	err   error
}

func (s stubChat) Complete(ctx context.Context, req repositories.ChatRequest) (string, error) {
	return s.reply, s.err
}

// slowVoice streams a few chunks with a pause between them
type slowVoice struct {
	chunks int
	gap    time.Duration
}

func (v slowVoice) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for i := 0; i < v.chunks; i++ {
			select {
			case <-time.After(v.gap):
			case <-ctx.Done():
				return
			}
			select {
			case out <- []byte{byte(i)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type testServer struct {
	hub     *websocket.Hub
	journal *adapters.MemoryTurnJournal
	server  *httptest.Server
}

func setupServer(t *testing.T, chat repositories.ChatCompleter) *testServer {
	t.Helper()
	return setupServerWithVoice(t, chat, nil)
}

func setupServerWithVoice(t *testing.T, chat repositories.ChatCompleter, voice repositories.TextToSpeech) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	journal := adapters.NewMemoryTurnJournal()
	conversations := usecase.NewConversationService(chat, journal, usecase.ChatParams{}, logger)
	hub := websocket.NewHub(conversations, nil, voice, websocket.HubConfig{
		SessionTTL:  time.Hour,
		AudioFormat: "pcm_24000",
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	e := echo.New()
	InitRoutes(e, hub, conversations, issuer, logger)
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return &testServer{hub: hub, journal: journal, server: server}
}

func (s *testServer) do(t *testing.T, method, path, token string, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *testServer) createSession(t *testing.T) CreateSessionResponse {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/v1/sessions", "", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created CreateSessionResponse
	require.NoError(t, json.Unmarshal(body, &created))
	return created
}

func (s *testServer) connect(t *testing.T, token string) *gws.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=" + token
	ws, _, err := gws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	// initial state
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = ws.ReadMessage()
	require.NoError(t, err)
	return ws
}

func TestHealth(t *testing.T) {
	s := setupServer(t, stubChat{reply: "hi"})

	resp, body := s.do(t, http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestCreateAndGetSession(t *testing.T) {
	s := setupServer(t, stubChat{reply: "hi"})

	created := s.createSession(t)
	assert.NotEmpty(t, created.SessionID)
	assert.NotEmpty(t, created.Token)
	assert.True(t, created.ExpiresAt.After(time.Now()))

	resp, body := s.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID, created.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got SessionResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, created.SessionID, got.Session.ID)
	assert.Equal(t, entities.SessionStatusActive, got.Session.Status)
	assert.False(t, got.Connected)
	assert.Empty(t, got.State.Conversation)
	assert.Nil(t, got.State.Error)
}

func TestSessionAuthorization(t *testing.T) {
	s := setupServer(t, stubChat{reply: "hi"})
	first := s.createSession(t)
	second := s.createSession(t)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "missing token", token: "", status: http.StatusUnauthorized},
		{name: "garbage token", token: "not-a-jwt", status: http.StatusUnauthorized},
		{name: "token for another session", token: second.Token, status: http.StatusForbidden},
		{name: "own token", token: first.Token, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := s.do(t, http.MethodGet, "/api/v1/sessions/"+first.SessionID, tt.token, "")
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestSendMessage_RequiresConnectedPage(t *testing.T) {
	s := setupServer(t, stubChat{reply: "hi"})
	created := s.createSession(t)

	resp, body := s.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/messages", created.Token, `{"message":"hello"}`)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "not_connected")
}

func TestSendMessage_Validation(t *testing.T) {
	s := setupServer(t, stubChat{reply: "hi"})
	created := s.createSession(t)
	path := "/api/v1/sessions/" + created.SessionID + "/messages"

	resp, _ := s.do(t, http.MethodPost, path, created.Token, `{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, path, created.Token, `{"message":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMessage_Reply(t *testing.T) {
	s := setupServer(t, stubChat{reply: "Paris is the capital of France."})
	created := s.createSession(t)
	s.connect(t, created.Token)

	resp, body := s.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/messages", created.Token,
		`{"message":"What is the capital of France?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got SendMessageResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Paris is the capital of France.", got.Reply)
	assert.False(t, got.State.Thinking)
	assert.Equal(t, []entities.ConversationTurn{
		entities.UserTurn("What is the capital of France?"),
		entities.AssistantTurn("Paris is the capital of France."),
	}, got.State.Conversation)

	resp, body = s.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/turns", created.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var turns TurnsResponse
	require.NoError(t, json.Unmarshal(body, &turns))
	require.Len(t, turns.Turns, 2)
	assert.Equal(t, entities.RoleUser, turns.Turns[0].Role)
	assert.Equal(t, entities.RoleAssistant, turns.Turns[1].Role)
}

func TestSendMessage_ChatFailure(t *testing.T) {
	s := setupServer(t, stubChat{err: domain.NewServiceError(http.StatusTooManyRequests, "429", "rate limited")})
	created := s.createSession(t)
	s.connect(t, created.Token)

	resp, body := s.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/messages", created.Token, `{"message":"hello"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var got ErrorResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "chat_failed", got.Error)
	assert.Equal(t, "rate limited", got.Message)
}

func TestTurns_EmptySession(t *testing.T) {
	s := setupServer(t, stubChat{reply: "hi"})
	created := s.createSession(t)

	resp, body := s.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/turns", created.Token, "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"turns":[]`)
}

func TestWebSocket_RequiresToken(t *testing.T) {
	s := setupServer(t, stubChat{reply: "hi"})
	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"

	_, resp, err := gws.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = gws.DefaultDialer.Dial(wsURL+"?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_UnknownSession(t *testing.T) {
	s := setupServer(t, stubChat{reply: "hi"})
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	token, _, err := issuer.GenerateSessionToken("missing")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=" + token
	_, resp, err := gws.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp2, _ := s.do(t, http.MethodGet, "/api/v1/sessions/missing", token, "")
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestWebSocket_BearerHeader(t *testing.T) {
	s := setupServer(t, stubChat{reply: "hi"})
	created := s.createSession(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+created.Token)
	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	ws, _, err := gws.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		live, ok := s.hub.Session(created.SessionID)
		return ok && live.Connected()
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSendMessage_ServerVoiceFinishesAfterResponse(t *testing.T) {
	s := setupServerWithVoice(t, stubChat{reply: "Paris is the capital of France."}, slowVoice{chunks: 5, gap: 40 * time.Millisecond})
	created := s.createSession(t)
	ws := s.connect(t, created.Token)

	resp, body := s.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/messages", created.Token, `{"message":"What is the capital of France?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	// The page receives the whole utterance even though the request is done
	var audio int
	for {
		ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		messageType, payload, err := ws.ReadMessage()
		require.NoError(t, err)
		if messageType == gws.BinaryMessage {
			audio++
			continue
		}
		if strings.Contains(string(payload), `"type":"speaking_end"`) {
			break
		}
	}
	assert.Equal(t, 5, audio)

	assert.Eventually(t, func() bool {
		resp, body := s.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID, created.Token, "")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var got SessionResponse
		if err := json.Unmarshal(body, &got); err != nil {
			return false
		}
		return !got.State.Speaking
	}, 2*time.Second, 20*time.Millisecond)
}
