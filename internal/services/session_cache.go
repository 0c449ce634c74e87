package services

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mindpal/backend/internal/metrics"
	"github.com/mindpal/backend/internal/models"
	"github.com/mindpal/backend/internal/repositories"
	"github.com/mindpal/backend/internal/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	DefaultSessionTTL     = 1800 * time.Second
	DefaultSessionMaxSize = 100
)

type SessionCacheConfig struct {
	TTL     time.Duration
	MaxSize int
}

// SessionCache keeps live conversation state in memory, bounded by count
// and by a fixed window from insertion. A miss rebuilds the state from the
// durable store, so eviction only ever drops the in-memory copy.
//
// The lock covers map and list mutation only; repository calls happen
// outside it.
type SessionCache struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	ttl           time.Duration
	maxSize       int
	metrics       *metrics.Metrics
	logger        logrus.FieldLogger

	// now is swapped in tests
	now func() time.Time

	mu      sync.Mutex
	order   *list.List // *cacheEntry, oldest insertion at the front
	entries map[string]*list.Element
}

type cacheEntry struct {
	state      *models.ConversationState
	insertedAt time.Time
}

func NewSessionCache(store repositories.Store, cfg SessionCacheConfig, m *metrics.Metrics, logger logrus.FieldLogger) *SessionCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultSessionMaxSize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SessionCache{
		conversations: store.Conversations,
		messages:      store.Messages,
		ttl:           cfg.TTL,
		maxSize:       cfg.MaxSize,
		metrics:       m,
		logger:        logger.WithField("component", "session_cache"),
		now:           time.Now,
		order:         list.New(),
		entries:       make(map[string]*list.Element),
	}
}

// Start creates a conversation for userID and seeds an empty state. Nothing
// is cached if the durable write fails.
func (c *SessionCache) Start(ctx context.Context, userID string) (*models.Conversation, error) {
	const op = "SessionCache.Start"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	now := c.now().UTC()
	conv := &models.Conversation{
		ID:         uuid.NewString(),
		UserID:     userID,
		Title:      models.DefaultConversationTitle,
		CreateTime: now,
		UpdateTime: now,
	}
	if err := c.conversations.Create(ctx, conv); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create conversation", err)
	}

	c.insert(&models.ConversationState{ConversationID: conv.ID, UserID: userID})
	return conv, nil
}

// Get returns a copy of the conversation's state. A resident entry is
// returned as is and its expiry is not extended. Otherwise the state is
// rebuilt from stored messages and cached again. A conversation that does
// not exist or belongs to someone else is NOT_FOUND.
func (c *SessionCache) Get(ctx context.Context, userID, conversationID string) (*models.ConversationState, error) {
	const op = "SessionCache.Get"

	if userID == "" || conversationID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and conversation_id are required", nil)
	}

	if st, ok := c.lookup(conversationID); ok {
		if st.UserID != userID {
			c.metrics.CacheLookup("absent")
			return nil, utils.E(utils.CodeNotFound, op, "conversation not found", utils.ErrNotFound)
		}
		c.metrics.CacheLookup("hit")
		return st, nil
	}

	conv, err := c.conversations.GetForUser(ctx, userID, conversationID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			c.metrics.CacheLookup("absent")
			return nil, utils.E(utils.CodeNotFound, op, "conversation not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load conversation", err)
	}
	msgs, err := c.messages.ListOrdered(ctx, conv.ID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load messages", err)
	}
	c.metrics.CacheLookup("miss")

	st := &models.ConversationState{
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		History:        make([]models.ChatMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		st.History = append(st.History, models.ChatMessage{Role: m.Role, Content: m.Content})
	}

	c.logger.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"messages":        len(msgs),
	}).Debug("conversation state rebuilt")
	return c.insert(st), nil
}

// Append persists a message and, when the conversation is resident, adds it
// to the cached history as well. A non-resident conversation is picked up on
// its next rebuild.
func (c *SessionCache) Append(ctx context.Context, conversationID string, role models.Role, content string, metadata datatypes.JSON) (*models.Message, error) {
	const op = "SessionCache.Append"

	if conversationID == "" || !role.Valid() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "conversation_id and a valid role are required", nil)
	}

	now := c.now().UTC()
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreateTime:     now,
		UpdateTime:     now,
	}
	if err := c.messages.Create(ctx, msg); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to persist message", err)
	}
	if err := c.conversations.Touch(ctx, conversationID, now); err != nil {
		c.logger.WithError(err).WithField("conversation_id", conversationID).Warn("failed to touch conversation")
	}

	c.mu.Lock()
	if el, ok := c.entries[conversationID]; ok {
		e := el.Value.(*cacheEntry)
		e.state.History = append(e.state.History, models.ChatMessage{Role: role, Content: content})
	}
	c.mu.Unlock()
	return msg, nil
}

// End drops the in-memory state. It is a no-op for unknown ids.
func (c *SessionCache) End(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[conversationID]; ok {
		c.remove(el, "ended")
	}
}

// Contains reports residency without rebuilding or counting a lookup.
func (c *SessionCache) Contains(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[conversationID]
	return ok && !c.expired(el.Value.(*cacheEntry), c.now())
}

func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *SessionCache) lookup(conversationID string) (*models.ConversationState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[conversationID]
	if !ok {
		return nil, false
	}
	e := el.Value.(*cacheEntry)
	if c.expired(e, c.now()) {
		c.remove(el, "expired")
		return nil, false
	}
	return e.state.Clone(), true
}

// insert caches st and returns a copy of what is now resident. If another
// caller cached the same conversation in the meantime, that entry wins.
func (c *SessionCache) insert(st *models.ConversationState) *models.ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.entries[st.ConversationID]; ok {
		e := el.Value.(*cacheEntry)
		if !c.expired(e, now) {
			return e.state.Clone()
		}
		c.remove(el, "expired")
	}

	c.entries[st.ConversationID] = c.order.PushBack(&cacheEntry{state: st, insertedAt: now})

	for el := c.order.Front(); el != nil && c.expired(el.Value.(*cacheEntry), now); el = c.order.Front() {
		c.remove(el, "expired")
	}
	for len(c.entries) > c.maxSize {
		c.remove(c.order.Front(), "capacity")
	}
	c.metrics.CacheSize(len(c.entries))
	return st.Clone()
}

func (c *SessionCache) expired(e *cacheEntry, now time.Time) bool {
	return !now.Before(e.insertedAt.Add(c.ttl))
}

// remove must be called with mu held.
func (c *SessionCache) remove(el *list.Element, reason string) {
	e := c.order.Remove(el).(*cacheEntry)
	delete(c.entries, e.state.ConversationID)
	c.metrics.CacheEviction(reason)
	c.metrics.CacheSize(len(c.entries))
}
