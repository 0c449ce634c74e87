package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TurnStatus string

const (
	TurnProcessing TurnStatus = "processing"
	TurnDone       TurnStatus = "done"
	TurnPartial    TurnStatus = "partial"
	TurnFailed     TurnStatus = "failed"
)

// TurnRecord is per-turn telemetry kept in Mongo; messages themselves live in
// the relational store.
type TurnRecord struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TurnID         string             `bson:"turn_id" json:"turn_id"`
	ConversationID string             `bson:"conversation_id" json:"conversation_id"`
	UserID         string             `bson:"user_id" json:"user_id"`

	Question string     `bson:"question" json:"question"`
	Channel  string     `bson:"channel" json:"channel"` // http|ws|voice
	Sources  []string   `bson:"sources,omitempty" json:"sources,omitempty"`
	Status   TurnStatus `bson:"status" json:"status"`

	ResponseChars    int    `bson:"response_chars" json:"response_chars"`
	Chunks           int    `bson:"chunks" json:"chunks"`
	Error            string `bson:"error,omitempty" json:"error,omitempty"`
	ProcessingTimeMS int64  `bson:"processing_time_ms,omitempty" json:"processing_time_ms,omitempty"`

	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // TTL index
}
