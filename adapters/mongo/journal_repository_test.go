package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicechat/domain/entities"
)

// Requires a running MongoDB instance (skipped if MONGODB_URI is not set)
func TestTurnJournalRepository_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	client, err := NewClient(ctx, Config{URI: mongoURI, Database: "voicechat_test"}, logger)
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		client.Database.Drop(ctx)
		client.Close(ctx)
	}()

	repo := NewTurnJournalRepository(client.Database, time.Hour, logger)
	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("Failed to create indexes: %v", err)
	}

	t.Run("AppendAndHistory", func(t *testing.T) {
		if err := repo.Append(ctx, "session-1", 1, entities.AssistantTurn("Paris is the capital of France.")); err != nil {
			t.Fatalf("Failed to append turn: %v", err)
		}
		if err := repo.Append(ctx, "session-1", 0, entities.UserTurn("What is the capital of France?")); err != nil {
			t.Fatalf("Failed to append turn: %v", err)
		}

		history, err := repo.History(ctx, "session-1")
		if err != nil {
			t.Fatalf("Failed to read history: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("Expected 2 turns, got %d", len(history))
		}
		if history[0].Role != entities.RoleUser || history[1].Role != entities.RoleAssistant {
			t.Errorf("Turns out of order: %+v", history)
		}
	})

	t.Run("DuplicateSeqKeepsFirst", func(t *testing.T) {
		if err := repo.Append(ctx, "session-1", 0, entities.UserTurn("rewritten")); err != nil {
			t.Fatalf("Failed to append turn: %v", err)
		}

		history, _ := repo.History(ctx, "session-1")
		if history[0].Content != "What is the capital of France?" {
			t.Errorf("Expected first entry to be kept, got %q", history[0].Content)
		}
	})

	t.Run("UnknownSession", func(t *testing.T) {
		history, err := repo.History(ctx, "missing")
		if err != nil {
			t.Fatalf("Failed to read history: %v", err)
		}
		if len(history) != 0 {
			t.Errorf("Expected no turns, got %d", len(history))
		}
	})
}
