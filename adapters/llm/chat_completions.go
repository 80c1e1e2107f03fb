package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain"
	"github.com/satriahrh/voicechat/domain/repositories"
)

const (
	defaultChatEndpoint = "https://models.github.ai/inference"
	defaultChatModel    = "openai/gpt-4.1"
)

// ChatCompletionsConfig holds configuration for an OpenAI-compatible
// /chat/completions endpoint such as GitHub Models.
// Required fields:
// - Token: the pre-shared credential sent as a bearer token
// Optional fields with defaults:
// - Endpoint: base URL (default: "https://models.github.ai/inference")
// - Model: model used when a request does not name one (default: "openai/gpt-4.1")
// - Timeout: per-request timeout, zero waits for as long as the context allows
type ChatCompletionsConfig struct {
	Endpoint string
	Token    string
	Model    string
	Timeout  time.Duration
}

// ChatCompletionsClient implements ChatCompleter over HTTP
type ChatCompletionsClient struct {
	endpoint   string
	token      string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.ChatCompleter = (*ChatCompletionsClient)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	TopP        float32       `json:"top_p"`
	Model       string        `json:"model"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *chatError `json:"error,omitempty"`
}

type chatError struct {
	Code    json.RawMessage `json:"code,omitempty"`
	Message string          `json:"message"`
}

// ValidateChatCompletionsConfig validates the ChatCompletionsConfig
func ValidateChatCompletionsConfig(config ChatCompletionsConfig) error {
	if config.Token == "" {
		return fmt.Errorf("chat completions token is required")
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}
	return nil
}

// NewChatCompletionsClient creates a new chat completions client
func NewChatCompletionsClient(config ChatCompletionsConfig, logger *zap.Logger) (*ChatCompletionsClient, error) {
	if err := ValidateChatCompletionsConfig(config); err != nil {
		return nil, err
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = defaultChatEndpoint
		logger.Info("Using default chat endpoint", zap.String("endpoint", endpoint))
	}

	model := config.Model
	if model == "" {
		model = defaultChatModel
		logger.Info("Using default chat model", zap.String("model", model))
	}

	return &ChatCompletionsClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      config.Token,
		model:      model,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}, nil
}

// Complete posts the system prompt and the user message and returns the
// content of the first choice.
func (c *ChatCompletionsClient) Complete(ctx context.Context, req repositories.ChatRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(chatCompletionsRequest{
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Message},
		},
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Model:       model,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	c.logger.Debug("Sending chat completion request",
		zap.String("model", model),
		zap.Int("messageLength", len(req.Message)))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed chatCompletionsResponse
	decodeErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Chat service returned error",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", truncate(string(respBody), 200)))
		if decodeErr == nil && parsed.Error != nil {
			return "", domain.NewServiceError(resp.StatusCode, parsed.Error.code(), parsed.Error.Message)
		}
		return "", domain.NewServiceError(resp.StatusCode, "", "")
	}

	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if parsed.Error != nil {
		return "", domain.NewServiceError(resp.StatusCode, parsed.Error.code(), parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == nil || *parsed.Choices[0].Message.Content == "" {
		return "", domain.ErrEmptyResponse
	}

	return *parsed.Choices[0].Message.Content, nil
}

// code renders the error code whether the service sent a string or a number
func (e *chatError) code() string {
	return strings.Trim(string(e.Code), `"`)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
