package repositories

import (
	"context"

	"github.com/satriahrh/voicechat/domain/entities"
)

// TurnJournal archives conversation turns as they happen
type TurnJournal interface {
	Append(ctx context.Context, sessionID string, seq int, turn entities.ConversationTurn) error
	History(ctx context.Context, sessionID string) ([]entities.JournalEntry, error)
}
