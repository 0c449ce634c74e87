package models

// ChatMessage is one entry of an in-memory conversation history.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationState is the live, cache-resident view of a conversation.
// UserID is fixed for the lifetime of the value.
type ConversationState struct {
	ConversationID string
	UserID         string
	History        []ChatMessage

	// per-turn fields, reset at the start of every turn
	PendingQuestion    string
	RetrievedDocuments []string
	GenerationBuffer   string
}

// Clone returns a deep copy so callers can read without holding the cache lock.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.History = append([]ChatMessage(nil), s.History...)
	out.RetrievedDocuments = append([]string(nil), s.RetrievedDocuments...)
	return &out
}
