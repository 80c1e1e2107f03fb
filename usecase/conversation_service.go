package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
)

// DefaultSystemPrompt is the instruction sent with every chat request
const DefaultSystemPrompt = "You are a helpful AI assistant. Provide clear, concise answers in short paragraphs."

// ConversationService creates orchestrators that share one chat provider,
// journal and set of generation parameters.
type ConversationService struct {
	chat    repositories.ChatCompleter
	journal repositories.TurnJournal
	params  ChatParams
	logger  *zap.Logger
}

// NewConversationService creates a new conversation service. journal may be nil.
func NewConversationService(
	chat repositories.ChatCompleter,
	journal repositories.TurnJournal,
	params ChatParams,
	logger *zap.Logger,
) *ConversationService {
	if params.SystemPrompt == "" {
		params.SystemPrompt = DefaultSystemPrompt
	}
	return &ConversationService{
		chat:    chat,
		journal: journal,
		params:  params,
		logger:  logger,
	}
}

// Start creates the orchestrator for a session. speaker plays the replies.
func (s *ConversationService) Start(ctx context.Context, sessionID string, speaker repositories.Speaker) *Orchestrator {
	s.logger.Info("Starting conversation", zap.String("sessionID", sessionID))
	return NewOrchestrator(ctx, sessionID, s.chat, speaker, s.journal, s.params, s.logger)
}

// History returns the archived turns of a session
func (s *ConversationService) History(ctx context.Context, sessionID string) ([]entities.JournalEntry, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.History(ctx, sessionID)
}
