package adapters

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
)

// MemoryTurnJournal keeps archived turns in process memory. Entries are lost
// on restart.
type MemoryTurnJournal struct {
	mu       sync.RWMutex
	sessions map[string]map[int]entities.JournalEntry // session_id -> seq -> entry
	now      func() time.Time
}

var _ repositories.TurnJournal = (*MemoryTurnJournal)(nil)

// NewMemoryTurnJournal creates an empty in-memory journal
func NewMemoryTurnJournal() *MemoryTurnJournal {
	return &MemoryTurnJournal{
		sessions: make(map[string]map[int]entities.JournalEntry),
		now:      time.Now,
	}
}

// Append implements repositories.TurnJournal. Writing the same seq twice
// keeps the first entry.
func (m *MemoryTurnJournal) Append(ctx context.Context, sessionID string, seq int, turn entities.ConversationTurn) error {
	if sessionID == "" {
		return errors.New("session ID cannot be empty")
	}
	if seq < 0 {
		return errors.New("sequence cannot be negative")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.sessions[sessionID]
	if !ok {
		entries = make(map[int]entities.JournalEntry)
		m.sessions[sessionID] = entries
	}
	if _, exists := entries[seq]; exists {
		return nil
	}

	entries[seq] = entities.JournalEntry{
		SessionID: sessionID,
		Seq:       seq,
		Role:      turn.Role,
		Content:   turn.Content,
		CreatedAt: m.now(),
	}
	return nil
}

// History implements repositories.TurnJournal
func (m *MemoryTurnJournal) History(ctx context.Context, sessionID string) ([]entities.JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.sessions[sessionID]
	history := make([]entities.JournalEntry, 0, len(entries))
	for _, e := range entries {
		history = append(history, e)
	}
	sort.Slice(history, func(i, j int) bool { return history[i].Seq < history[j].Seq })
	return history, nil
}

// Forget drops every entry of a session
func (m *MemoryTurnJournal) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}
