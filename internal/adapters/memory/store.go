package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/ports"
)

// Store is a thread-safe in-memory MatchStore and AgentStore.
type Store struct {
	mu sync.Mutex

	matches map[uuid.UUID]*match.Match

	// moves: matchID -> moves ordered by ply
	moves map[uuid.UUID][]match.Move

	agents map[uuid.UUID]match.Agent
}

var (
	_ ports.MatchStore = (*Store)(nil)
	_ ports.AgentStore = (*Store)(nil)
)

// New creates an empty Store.
func New() *Store {
	return &Store{
		matches: make(map[uuid.UUID]*match.Match),
		moves:   make(map[uuid.UUID][]match.Move),
		agents:  make(map[uuid.UUID]match.Agent),
	}
}

// Stored matches are cloned on the way in and out so callers never share
// pointers with the store.

func (s *Store) CreateMatch(_ context.Context, m *match.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[m.ID] = m.Clone()
	return nil
}

func (s *Store) GetMatch(_ context.Context, id uuid.UUID) (*match.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Store) UpdateMatch(_ context.Context, m *match.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[m.ID]; !ok {
		return ports.ErrNotFound
	}
	s.matches[m.ID] = m.Clone()
	return nil
}

func (s *Store) CreateMove(_ context.Context, mv match.Move) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[mv.MatchID]; !ok {
		return ports.ErrNotFound
	}
	for _, existing := range s.moves[mv.MatchID] {
		if existing.Ply == mv.Ply {
			return ports.ErrDuplicatePly
		}
	}
	s.moves[mv.MatchID] = append(s.moves[mv.MatchID], mv)
	sort.Slice(s.moves[mv.MatchID], func(i, j int) bool {
		return s.moves[mv.MatchID][i].Ply < s.moves[mv.MatchID][j].Ply
	})
	return nil
}

func (s *Store) ListMoves(_ context.Context, matchID uuid.UUID) ([]match.Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[matchID]; !ok {
		return nil, ports.ErrNotFound
	}
	out := make([]match.Move, len(s.moves[matchID]))
	copy(out, s.moves[matchID])
	return out, nil
}

func (s *Store) ListMatches(_ context.Context, limit int) ([]*match.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*match.Match, 0, len(s.matches))
	for _, m := range s.matches {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListStale(_ context.Context, before time.Time) ([]*match.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*match.Match
	for _, m := range s.matches {
		if m.Status == match.StatusInProgress && m.UpdatedAt.Before(before) {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (s *Store) CreateAgent(_ context.Context, a match.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
	return nil
}

func (s *Store) GetAgent(_ context.Context, id uuid.UUID) (match.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return match.Agent{}, ports.ErrNotFound
	}
	return a, nil
}
