// Package broadcast delivers live match updates to in-process observers.
package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/randomtoy/chess-arena/internal/ports"
)

const DefaultBuffer = 32

// Hub is a pub/sub keyed by match id. Slow subscribers lose updates rather
// than stall the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[*subscriber]struct{}
	buffer int
	log    *zap.Logger
}

type subscriber struct {
	ch chan ports.Update
}

var _ ports.Broadcaster = (*Hub)(nil)

func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[uuid.UUID]map[*subscriber]struct{}),
		buffer: buffer,
		log:    log.Named("hub"),
	}
}

// Subscribe returns a channel of updates for matchID and a func that ends
// the subscription and closes the channel. The func is safe to call twice.
func (h *Hub) Subscribe(matchID uuid.UUID) (<-chan ports.Update, func()) {
	s := &subscriber{ch: make(chan ports.Update, h.buffer)}

	h.mu.Lock()
	if h.subs[matchID] == nil {
		h.subs[matchID] = make(map[*subscriber]struct{})
	}
	h.subs[matchID][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[matchID], s)
			if len(h.subs[matchID]) == 0 {
				delete(h.subs, matchID)
			}
			close(s.ch)
		})
	}
}

// Subscribers reports how many observers follow matchID.
func (h *Hub) Subscribers(matchID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[matchID])
}

func (h *Hub) Publish(_ context.Context, matchID uuid.UUID, u ports.Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[matchID] {
		select {
		case s.ch <- u:
		default:
			h.log.Debug("subscriber lagging, update dropped",
				zap.String("match_id", matchID.String()), zap.String("type", u.Type))
		}
	}
}
