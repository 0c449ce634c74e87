package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TurnsCollection holds one document per completed chat turn.
const TurnsCollection = "chat_turns"

func turnIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			// expires_at must be a BSON date for the TTL monitor to act on it
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("ttl_expires_at").SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "turn_id", Value: 1}},
			Options: options.Index().SetName("uniq_conversation_turn").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("by_conversation_ts"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("by_user_ts"),
		},
	}
}

// EnsureMongoIndexes is idempotent; existing indexes with the same name and
// keys are left alone.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	if db == nil {
		return errors.New("mongo database is nil; call InitMongo first")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := db.Collection(TurnsCollection).Indexes().CreateMany(ctx, turnIndexes()); err != nil {
		return fmt.Errorf("create %s indexes: %w", TurnsCollection, err)
	}
	return nil
}
