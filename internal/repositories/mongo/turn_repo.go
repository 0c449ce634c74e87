package mongo

import (
	"context"
	"time"

	"github.com/mindpal/backend/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TurnRepository stores chat turn telemetry.
type TurnRepository interface {
	Insert(ctx context.Context, t *models.TurnRecord) error
	Finish(ctx context.Context, conversationID, turnID string, status models.TurnStatus, chunks, responseChars int, errMsg string, processingMS int64) error
	ListByConversation(ctx context.Context, conversationID string, limit int64) ([]models.TurnRecord, error)
}

type turnRepo struct {
	col *mongo.Collection
}

func NewTurnRepo(db *mongo.Database) TurnRepository {
	return &turnRepo{col: db.Collection("chat_turns")}
}

func (r *turnRepo) Insert(ctx context.Context, t *models.TurnRecord) error {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, t)
	return err
}

func (r *turnRepo) Finish(ctx context.Context, conversationID, turnID string, status models.TurnStatus, chunks, responseChars int, errMsg string, processingMS int64) error {
	set := bson.M{
		"status":             status,
		"chunks":             chunks,
		"response_chars":     responseChars,
		"processing_time_ms": processingMS,
	}
	if errMsg != "" {
		set["error"] = errMsg
	}
	_, err := r.col.UpdateOne(ctx,
		bson.M{"conversation_id": conversationID, "turn_id": turnID},
		bson.M{"$set": set},
	)
	return err
}

func (r *turnRepo) ListByConversation(ctx context.Context, conversationID string, limit int64) ([]models.TurnRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	cur, err := r.col.Find(ctx,
		bson.M{"conversation_id": conversationID},
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.TurnRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
