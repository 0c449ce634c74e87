package models

import "time"

// JournalEntry is at most one per conversation.
type JournalEntry struct {
	ID             string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID         string    `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	ConversationID string    `gorm:"column:conversation_id;type:uuid;uniqueIndex" json:"conversation_id"`
	Content        string    `gorm:"column:content;type:text" json:"content"`
	Mood           string    `gorm:"column:mood;type:text" json:"mood"`
	SentimentScore float64   `gorm:"column:sentiment_score;type:double precision" json:"sentiment_score"`
	CreateTime     time.Time `gorm:"column:create_time;type:timestamptz" json:"create_time"`
	UpdateTime     time.Time `gorm:"column:update_time;type:timestamptz" json:"update_time"`
}

func (JournalEntry) TableName() string { return "journals" }
