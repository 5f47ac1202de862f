package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/llm"
	"github.com/randomtoy/chess-arena/internal/ports"
)

var ErrRateLimited = errors.New("rate limited")

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Enqueuer hands a run to the background job layer.
type Enqueuer interface {
	Enqueue(req RunRequest) error
}

// CreateMatchRequest is the input to CreateMatch. Provider and Model override
// the server defaults; the API key always comes from the server.
type CreateMatchRequest struct {
	AgentID        uuid.UUID
	EngineStrength int
	Provider       string
	Model          string
}

// Matches handles match creation and reads.
type Matches struct {
	matches  ports.MatchStore
	agents   ports.AgentStore
	rl       ports.RateLimiter
	jobs     Enqueuer
	defaults llm.Config
}

func NewMatches(matches ports.MatchStore, agents ports.AgentStore, rl ports.RateLimiter, jobs Enqueuer, defaults llm.Config) *Matches {
	return &Matches{matches: matches, agents: agents, rl: rl, jobs: jobs, defaults: defaults}
}

// CreateMatch stores a pending match and enqueues its run. Credentials are
// validated here so a misconfigured server fails the request, not the match.
func (s *Matches) CreateMatch(ctx context.Context, ip, token string, req CreateMatchRequest) (*match.Match, error) {
	if !s.rl.Allow(ip, token) {
		return nil, ErrRateLimited
	}
	if _, err := s.agents.GetAgent(ctx, req.AgentID); err != nil {
		return nil, err
	}

	creds := s.defaults
	if req.Provider != "" {
		creds.Provider = req.Provider
	}
	if req.Model != "" {
		creds.Model = req.Model
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	m, err := match.New(uuid.New(), req.AgentID, req.EngineStrength, creds.Provider, creds.Model, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.matches.CreateMatch(ctx, m); err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}

	err = s.jobs.Enqueue(RunRequest{
		MatchID:        m.ID,
		AgentID:        m.AgentID,
		EngineStrength: m.EngineStrength,
		Credentials:    creds,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Matches) GetMatch(ctx context.Context, id uuid.UUID) (*match.Match, error) {
	return s.matches.GetMatch(ctx, id)
}

// ListMoves returns the moves of a match ordered by ply.
func (s *Matches) ListMoves(ctx context.Context, id uuid.UUID) ([]match.Move, error) {
	return s.matches.ListMoves(ctx, id)
}

// ListMatches returns the newest matches, clamping limit to 1..MaxListLimit.
func (s *Matches) ListMatches(ctx context.Context, limit int) ([]*match.Match, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.matches.ListMatches(ctx, limit)
}
