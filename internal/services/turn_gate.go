package services

import (
	"context"
	"sync"
)

// turnGate admits one turn at a time per conversation. Waiters give up when
// their context ends. Slots are dropped once nobody holds or waits on them.
type turnGate struct {
	mu    sync.Mutex
	slots map[string]*gateSlot
}

type gateSlot struct {
	sem  chan struct{}
	refs int
}

func newTurnGate() *turnGate {
	return &turnGate{slots: make(map[string]*gateSlot)}
}

// Acquire blocks until the conversation is free. The returned release must
// be called exactly once.
func (g *turnGate) Acquire(ctx context.Context, conversationID string) (func(), error) {
	g.mu.Lock()
	s, ok := g.slots[conversationID]
	if !ok {
		s = &gateSlot{sem: make(chan struct{}, 1)}
		g.slots[conversationID] = s
	}
	s.refs++
	g.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		g.unref(conversationID, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			g.unref(conversationID, s)
		})
	}, nil
}

func (g *turnGate) unref(conversationID string, s *gateSlot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(g.slots, conversationID)
	}
}

func (g *turnGate) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}
