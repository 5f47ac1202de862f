package ports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/randomtoy/chess-arena/internal/domain/match"
)

// Sentinel store errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicatePly = errors.New("duplicate ply")
)

// MatchStore is the persistence interface for matches and their moves.
// Implementations must be safe for concurrent writers keyed by match id.
type MatchStore interface {
	CreateMatch(ctx context.Context, m *match.Match) error
	GetMatch(ctx context.Context, id uuid.UUID) (*match.Match, error)
	// UpdateMatch overwrites the stored match row. Returns ErrNotFound when
	// the match does not exist.
	UpdateMatch(ctx context.Context, m *match.Match) error

	// CreateMove appends one ply. Returns ErrDuplicatePly when the match
	// already has a move with the same ply.
	CreateMove(ctx context.Context, mv match.Move) error
	// ListMoves returns the moves of a match ordered by ply.
	ListMoves(ctx context.Context, matchID uuid.UUID) ([]match.Move, error)

	// ListMatches returns the most recent matches first.
	ListMatches(ctx context.Context, limit int) ([]*match.Match, error)
	// ListStale returns matches still in_progress whose last update is
	// older than before.
	ListStale(ctx context.Context, before time.Time) ([]*match.Match, error)
}

// AgentStore persists agent profiles.
type AgentStore interface {
	CreateAgent(ctx context.Context, a match.Agent) error
	GetAgent(ctx context.Context, id uuid.UUID) (match.Agent, error)
}

// Update types carried by a broadcast.
const (
	UpdateStatus    = "status"
	UpdateMove      = "move"
	UpdateCompleted = "completed"
	UpdateError     = "error"
)

// Update is one live notification about a match.
type Update struct {
	Type    string       `json:"type"`
	Match   *match.Match `json:"-"`
	Move    *match.Move  `json:"-"`
	Message string       `json:"message,omitempty"`
}

// Broadcaster delivers live updates. Publish is fire-and-forget: it never
// blocks on slow observers and never reports failure to the caller.
type Broadcaster interface {
	Publish(ctx context.Context, matchID uuid.UUID, u Update)
}

// Archiver stores the finished game record, typically as PGN.
type Archiver interface {
	Archive(ctx context.Context, m *match.Match, pgn string) error
}

// RateLimiter gates requests by IP and optional client token.
type RateLimiter interface {
	Allow(ip, token string) bool
}
