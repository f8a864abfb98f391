package rag

import (
	"context"
	"sync"

	"github.com/poiesic/docchat/core"
)

// Sequencer runs functions one at a time per conversation.
// Functions for different conversations run concurrently.
type Sequencer struct {
	mu    sync.Mutex
	slots map[core.ID]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewSequencer returns an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{slots: make(map[core.ID]*slot)}
}

// Do waits for exclusive access to conversationID and runs fn.
// If ctx ends before access is granted, fn is
// not run and ctx.Err() is returned.
func (s *Sequencer) Do(ctx context.Context, conversationID core.ID, fn func() error) error {
	sl := s.acquire(conversationID)
	defer s.release(conversationID, sl)

	select {
	case sl.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sl.ch }()

	return fn()
}

// Active returns the number of conversations with callers running or waiting.
func (s *Sequencer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

func (s *Sequencer) acquire(id core.ID) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		sl = &slot{ch: make(chan struct{}, 1)}
		s.slots[id] = sl
	}
	sl.refs++
	return sl
}

func (s *Sequencer) release(id core.ID, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(s.slots, id)
	}
}
