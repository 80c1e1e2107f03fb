package repositories

import "context"

// ChatCompleter abstracts any hosted chat-completion provider
type ChatCompleter interface {
	// Complete sends one system instruction and one user message and
	// returns the generated reply.
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// ChatRequest is a single-turn exchange. Prior turns are never resent.
type ChatRequest struct {
	SystemPrompt string  `json:"system_prompt"`
	Message      string  `json:"message"`
	Model        string  `json:"model,omitempty"`
	Temperature  float32 `json:"temperature"`
	TopP         float32 `json:"top_p"`
}
