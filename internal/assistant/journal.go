package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/providers/llm"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const journalInstruction = `You are a journaling assistant. Read the conversation between a user and a mental health assistant below and write a short first-person journal entry from the user's point of view that reflects on what they talked about and how they felt.

Respond with strict JSON only, no prose and no code fences, using exactly these fields:
{"journal_content": string, "mood": one lowercase word, "sentiment_score": number between -1.0 and 1.0}

Conversation:
%s`

const journalSchema = `{
  "type": "object",
  "properties": {
    "journal_content": {"type": "string"},
    "mood": {"type": "string"},
    "sentiment_score": {"type": "number", "minimum": -1, "maximum": 1}
  }
}`

// ErrMalformedJournal is returned when the model output is not the
// expected JSON object.
var ErrMalformedJournal = errors.New("malformed journal response")

type JournalResult struct {
	Content        string  `json:"journal_content"`
	Mood           string  `json:"mood"`
	SentimentScore float64 `json:"sentiment_score"`
}

// JournalMaker turns a finished transcript into a journal entry.
type JournalMaker struct {
	provider llm.Provider
	schema   *jsonschema.Schema
}

func NewJournalMaker(provider llm.Provider) (*JournalMaker, error) {
	schema, err := jsonschema.CompileString("journal.json", journalSchema)
	if err != nil {
		return nil, fmt.Errorf("compile journal schema: %w", err)
	}
	return &JournalMaker{provider: provider, schema: schema}, nil
}

// Summarize asks the model for a journal entry. Missing fields come back
// as "" or 0; anything that is not a JSON object of the right shape wraps
// ErrMalformedJournal.
func (j *JournalMaker) Summarize(ctx context.Context, history []models.ChatMessage) (JournalResult, error) {
	raw, err := j.provider.Complete(ctx, fmt.Sprintf(journalInstruction, FormatHistory(history)))
	if err != nil {
		return JournalResult{}, err
	}
	return j.Parse(raw)
}

// Parse validates and decodes one model response.
func (j *JournalMaker) Parse(raw string) (JournalResult, error) {
	body := stripFence(raw)

	var doc any
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return JournalResult{}, fmt.Errorf("%w: %v", ErrMalformedJournal, err)
	}
	if dec.More() {
		return JournalResult{}, fmt.Errorf("%w: trailing data after object", ErrMalformedJournal)
	}
	if err := j.schema.Validate(doc); err != nil {
		return JournalResult{}, fmt.Errorf("%w: %v", ErrMalformedJournal, err)
	}

	var out JournalResult
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return JournalResult{}, fmt.Errorf("%w: %v", ErrMalformedJournal, err)
	}
	out.Content = strings.TrimSpace(out.Content)
	out.Mood = strings.TrimSpace(out.Mood)
	return out, nil
}

// stripFence removes a surrounding ```json ... ``` block if the model
// added one anyway.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
