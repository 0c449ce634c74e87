package models

import (
	"time"

	"gorm.io/datatypes"
)

const DefaultConversationTitle = "New chat"

type Conversation struct {
	ID         string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID     string    `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	Title      string    `gorm:"column:title;type:text" json:"title"`
	CreateTime time.Time `gorm:"column:create_time;type:timestamptz" json:"create_time"`
	UpdateTime time.Time `gorm:"column:update_time;type:timestamptz;index" json:"update_time"`
}

func (Conversation) TableName() string { return "conversations" }

type Role string

const (
	RoleUserMessage      Role = "user"
	RoleAssistantMessage Role = "assistant"
)

func (r Role) Valid() bool { return r == RoleUserMessage || r == RoleAssistantMessage }

type Message struct {
	ID             string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ConversationID string         `gorm:"column:conversation_id;type:uuid;index:idx_messages_conv_time,priority:1" json:"conversation_id"`
	Role           Role           `gorm:"column:role;type:text" json:"role"`
	Content        string         `gorm:"column:content;type:text" json:"content"`
	Metadata       datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreateTime     time.Time      `gorm:"column:create_time;type:timestamptz;index:idx_messages_conv_time,priority:2" json:"create_time"`
	UpdateTime     time.Time      `gorm:"column:update_time;type:timestamptz" json:"update_time"`
}

func (Message) TableName() string { return "messages" }

// MessageMetadata is stored on assistant messages.
type MessageMetadata struct {
	Partial bool     `json:"partial,omitempty"`
	Sources []string `json:"sources,omitempty"`
}
