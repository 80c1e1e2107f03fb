package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/internal/auth"
	"github.com/satriahrh/voicechat/internal/websocket"
	"github.com/satriahrh/voicechat/usecase"
)

const claimsKey = "claims"

// Handler serves the HTTP API
type Handler struct {
	hub           *websocket.Hub
	conversations *usecase.ConversationService
	issuer        *auth.Issuer
	logger        *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, conversations *usecase.ConversationService, issuer *auth.Issuer, logger *zap.Logger) {
	h := &Handler{
		hub:           hub,
		conversations: conversations,
		issuer:        issuer,
		logger:        logger,
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"service":  "voicechat",
			"sessions": hub.SessionCount(),
		})
	})

	v1 := e.Group("/api/v1")
	v1.POST("/sessions", h.createSession)

	session := v1.Group("/sessions/:id", h.requireSession)
	session.GET("", h.getSession)
	session.GET("/turns", h.getTurns)
	session.POST("/messages", h.sendMessage)

	// WebSocket endpoint with JWT validation
	e.GET("/ws", h.websocketWithAuth)
}

func (h *Handler) createSession(c echo.Context) error {
	session := h.hub.CreateSession()

	token, expiresAt, err := h.issuer.GenerateSessionToken(session.ID)
	if err != nil {
		h.logger.Error("Failed to generate session token",
			zap.String("session_id", session.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate session token",
		})
	}

	return c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID: session.ID,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

func (h *Handler) getSession(c echo.Context) error {
	live, ok := h.hub.Session(c.Param("id"))
	if !ok {
		return sessionNotFound(c)
	}

	return c.JSON(http.StatusOK, SessionResponse{
		Session:   live.Snapshot(),
		Connected: live.Connected(),
		State:     websocket.NewStateView(live.Orchestrator().State()),
	})
}

func (h *Handler) getTurns(c echo.Context) error {
	id := c.Param("id")
	turns, err := h.conversations.History(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("Failed to read turns", zap.String("session_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "history_unavailable",
			Message: "Failed to read conversation history",
		})
	}

	if turns == nil {
		turns = []entities.JournalEntry{}
	}

	return c.JSON(http.StatusOK, TurnsResponse{SessionID: id, Turns: turns})
}

// sendMessage runs one turn for a typed message and waits for the reply.
// The reply is spoken on the connected page, so a page must be attached.
func (h *Handler) sendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Message is required",
		})
	}

	live, ok := h.hub.Session(c.Param("id"))
	if !ok {
		return sessionNotFound(c)
	}
	if live.Snapshot().IsExpired() {
		return c.JSON(http.StatusGone, ErrorResponse{
			Error:   "session_ended",
			Message: "Session has ended",
		})
	}
	if !live.Connected() {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "not_connected",
			Message: "No page is connected to this session",
		})
	}
	live.Touch()

	orchestrator := live.Orchestrator()
	reply, ok := orchestrator.RunTurn(c.Request().Context(), message)
	state := orchestrator.State()
	if !ok {
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "chat_failed",
			Message: state.Error,
		})
	}

	return c.JSON(http.StatusOK, SendMessageResponse{
		Reply: reply,
		State: websocket.NewStateView(state),
	})
}

// requireSession checks that the bearer token belongs to the session in the path
func (h *Handler) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, err := h.authenticate(c)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: err.Error(),
			})
		}
		if claims.SessionID != c.Param("id") {
			return c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "forbidden",
				Message: "Token does not grant access to this session",
			})
		}
		c.Set(claimsKey, claims)
		return next(c)
	}
}

var errMissingToken = errors.New("JWT token is required")

// authenticate reads the token from the Authorization header, falling back
// to the token query parameter since browsers cannot set headers on
// websocket requests.
func (h *Handler) authenticate(c echo.Context) (*auth.JWTClaims, error) {
	var token string
	authHeader := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if token == "" {
		token = c.QueryParam("token")
	}
	if token == "" {
		return nil, errMissingToken
	}

	claims, err := h.issuer.ValidateToken(token)
	if err != nil {
		h.logger.Warn("Rejected token", zap.Error(err))
		return nil, errors.New("Invalid or expired JWT token")
	}
	return claims, nil
}

// websocketWithAuth handles WebSocket connections with JWT authentication
func (h *Handler) websocketWithAuth(c echo.Context) error {
	claims, err := h.authenticate(c)
	if err != nil {
		logError := "invalid_token"
		if errors.Is(err, errMissingToken) {
			logError = "missing_token"
		}
		h.logger.Warn("WebSocket connection rejected", zap.String("reason", logError))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   logError,
			Message: err.Error(),
		})
	}

	live, ok := h.hub.Session(claims.SessionID)
	if !ok {
		return sessionNotFound(c)
	}
	if live.Snapshot().IsExpired() {
		return c.JSON(http.StatusGone, ErrorResponse{
			Error:   "session_ended",
			Message: "Session has ended",
		})
	}

	h.logger.Info("WebSocket connection authenticated", zap.String("session_id", claims.SessionID))

	return websocket.HandleWebSocketWithAuth(h.hub, c, claims.SessionID, h.logger)
}

func sessionNotFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "session_not_found",
		Message: "Session does not exist",
	})
}
