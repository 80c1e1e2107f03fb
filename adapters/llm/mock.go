package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/satriahrh/voicechat/domain/repositories"
)

// MockLLM is a placeholder chat provider for running without credentials
type MockLLM struct{}

// NewMockLLM creates a new mock chat provider
func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

// Complete implements repositories.ChatCompleter
func (m *MockLLM) Complete(ctx context.Context, req repositories.ChatRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	message := strings.TrimSpace(req.Message)
	switch {
	case message == "":
		return "I did not catch that. Could you say it again?", nil
	case strings.HasSuffix(message, "?"):
		return fmt.Sprintf("That is a good question. You asked: %q. I am a mock assistant, so I cannot look it up.", message), nil
	default:
		return fmt.Sprintf("You said: %q.", message), nil
	}
}
