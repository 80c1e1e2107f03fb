package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
)

const turnsCollection = "turns"

// TurnJournalRepository archives turns in the "turns" collection, one
// document per turn keyed by (session_id, seq).
type TurnJournalRepository struct {
	collection *mongo.Collection
	retention  time.Duration
	logger     *zap.Logger
}

var _ repositories.TurnJournal = (*TurnJournalRepository)(nil)

// NewTurnJournalRepository creates the repository. A positive retention lets
// MongoDB expire entries that old.
func NewTurnJournalRepository(db *mongo.Database, retention time.Duration, logger *zap.Logger) *TurnJournalRepository {
	return &TurnJournalRepository{
		collection: db.Collection(turnsCollection),
		retention:  retention,
		logger:     logger,
	}
}

// EnsureIndexes creates the lookup index and, with a retention, the TTL index
func (r *TurnJournalRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if r.retention > 0 {
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(r.retention.Seconds())),
		})
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create turn indexes: %w", err)
	}
	r.logger.Info("Turn indexes ready", zap.Int("count", len(indexes)))
	return nil
}

// Append implements repositories.TurnJournal. Writing the same seq twice
// keeps the first entry.
func (r *TurnJournalRepository) Append(ctx context.Context, sessionID string, seq int, turn entities.ConversationTurn) error {
	if sessionID == "" {
		return errors.New("session ID cannot be empty")
	}

	entry := entities.JournalEntry{
		SessionID: sessionID,
		Seq:       seq,
		Role:      turn.Role,
		Content:   turn.Content,
		CreatedAt: time.Now().UTC(),
	}

	filter := bson.M{"session_id": sessionID, "seq": seq}
	update := bson.M{"$setOnInsert": entry}
	opts := options.Update().SetUpsert(true)

	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// History implements repositories.TurnJournal
func (r *TurnJournalRepository) History(ctx context.Context, sessionID string) ([]entities.JournalEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find turns: %w", err)
	}
	defer cursor.Close(ctx)

	history := make([]entities.JournalEntry, 0)
	if err := cursor.All(ctx, &history); err != nil {
		return nil, fmt.Errorf("failed to decode turns: %w", err)
	}
	return history, nil
}
