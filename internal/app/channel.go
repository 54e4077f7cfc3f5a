package app

import (
	"context"
	"sync"

	"hoversave/internal/bus"
)

// pageSlot is a bus.Channel whose far end can be swapped while the
// coordinator holds on to it. With nothing attached it talks to fallback.
type pageSlot struct {
	mu       sync.RWMutex
	ch       bus.Channel
	fallback bus.Channel
}

func (s *pageSlot) set(ch bus.Channel) {
	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()
}

func (s *pageSlot) setFallback(ch bus.Channel) {
	s.mu.Lock()
	s.fallback = ch
	s.mu.Unlock()
}

func (s *pageSlot) Send(ctx context.Context, m bus.Message) (bus.Reply, error) {
	s.mu.RLock()
	ch := s.ch
	if ch == nil {
		ch = s.fallback
	}
	s.mu.RUnlock()
	if ch == nil {
		return bus.Reply{}, bus.ErrNoListener
	}
	return ch.Send(ctx, m)
}
