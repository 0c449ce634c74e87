// Package assistant holds the conversation workflow and the journal
// summarizer that sit between the services and the language model.
package assistant

import (
	"strings"

	"github.com/mindpal/backend/internal/models"
)

const promptTemplate = `You are an mental health assistant who is chatting with a human to resolve their mental issues, anxiety etc.
Use the following pieces of retrieved context to answer the question if it is relevant for answering the question. If you don't know the answer, just say that you don't know.
Use chat history, long term memory about user and context for replying to the user.
ChatHistory: {chat_history}
LongTermMemory: {long_term_memory}
User: {question}
Context: {context}
Answer:`

// PromptInput is everything the reply prompt is built from. LongTermMemory
// is part of the prompt contract but nothing populates it yet.
type PromptInput struct {
	History        []models.ChatMessage
	LongTermMemory string
	Context        []string
	Question       string
}

// FormatPrompt renders the reply prompt. It has no side effects.
func FormatPrompt(in PromptInput) string {
	r := strings.NewReplacer(
		"{chat_history}", FormatHistory(in.History),
		"{long_term_memory}", in.LongTermMemory,
		"{question}", in.Question,
		"{context}", strings.Join(in.Context, "\n\n"),
	)
	return r.Replace(promptTemplate)
}

// FormatHistory renders one "role: content" line per message, oldest first.
func FormatHistory(history []models.ChatMessage) string {
	lines := make([]string, len(history))
	for i, m := range history {
		lines[i] = string(m.Role) + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}
