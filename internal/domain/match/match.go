package match

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a match.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusErrored    Status = "errored"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusErrored
}

// Winner values match the contract enum.
type Winner string

const (
	WinnerAgent  Winner = "agent"
	WinnerEngine Winner = "engine"
	WinnerDraw   Winner = "draw"
)

// Player tags the side that made a move.
type Player string

const (
	PlayerAgent  Player = "agent"
	PlayerEngine Player = "engine"
)

// Opponent returns the side that moves after p.
func (p Player) Opponent() Player {
	if p == PlayerAgent {
		return PlayerEngine
	}
	return PlayerAgent
}

const (
	MinStrength = 1
	MaxStrength = 8
)

var (
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrInvalidStrength   = errors.New("invalid_engine_strength")
	ErrNegativeCounter   = errors.New("negative_counter")
	ErrPlyOutOfOrder     = errors.New("ply_out_of_order")
)

// Match is one game between an agent and the engine. All pointer fields are
// nullable in the contract.
type Match struct {
	ID             uuid.UUID
	AgentID        uuid.UUID
	EngineStrength int
	RetryOf        *uuid.UUID
	Provider       string
	Model          string

	Status      Status
	Winner      *Winner
	Termination *string

	MoveCount          int
	TotalTokens        int
	CostEstimate       float64
	AvgAgentResponseMs *int64

	FinalFEN     *string
	ErrorMessage *string

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New creates a pending match. Strength must be within 1..8.
func New(id, agentID uuid.UUID, strength int, provider, model string, now time.Time) (*Match, error) {
	if strength < MinStrength || strength > MaxStrength {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStrength, strength)
	}
	return &Match{
		ID:             id,
		AgentID:        agentID,
		EngineStrength: strength,
		Provider:       provider,
		Model:          model,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// RetryOf returns a fresh pending match that replays prev's configuration.
// prev itself is left untouched: terminal matches never come back.
func RetryOf(prev *Match, id uuid.UUID, now time.Time) *Match {
	prevID := prev.ID
	return &Match{
		ID:             id,
		AgentID:        prev.AgentID,
		EngineStrength: prev.EngineStrength,
		RetryOf:        &prevID,
		Provider:       prev.Provider,
		Model:          prev.Model,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Start moves a pending match to in_progress.
func (m *Match) Start(now time.Time) error {
	if m.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, StatusInProgress)
	}
	t := now
	m.Status = StatusInProgress
	m.StartedAt = &t
	m.UpdatedAt = now
	return nil
}

// RecordMove folds a persisted move into the running counters. The move must
// be the next ply.
func (m *Match) RecordMove(mv Move, cost float64, now time.Time) error {
	if m.Status != StatusInProgress {
		return fmt.Errorf("%w: record move while %s", ErrInvalidTransition, m.Status)
	}
	if mv.Ply != m.MoveCount+1 {
		return fmt.Errorf("%w: want ply %d, got %d", ErrPlyOutOfOrder, m.MoveCount+1, mv.Ply)
	}
	if cost < 0 || (mv.Tokens != nil && *mv.Tokens < 0) {
		return ErrNegativeCounter
	}
	m.MoveCount++
	if mv.Tokens != nil {
		m.TotalTokens += *mv.Tokens
	}
	m.CostEstimate += cost
	m.UpdatedAt = now
	return nil
}

// Complete finalizes an in-progress match with its outcome.
func (m *Match) Complete(w Winner, reason, finalFEN string, avgAgentMs *int64, now time.Time) error {
	if m.Status != StatusInProgress {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, StatusCompleted)
	}
	winner := w
	r := reason
	fen := finalFEN
	t := now
	m.Status = StatusCompleted
	m.Winner = &winner
	m.Termination = &r
	m.FinalFEN = &fen
	m.AvgAgentResponseMs = avgAgentMs
	m.CompletedAt = &t
	m.UpdatedAt = now
	return nil
}

// Fail marks the match errored. Allowed from pending and in_progress only, so
// a match is marked errored at most once.
func (m *Match) Fail(msg string, now time.Time) error {
	if m.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, StatusErrored)
	}
	em := msg
	t := now
	m.Status = StatusErrored
	m.ErrorMessage = &em
	m.CompletedAt = &t
	m.UpdatedAt = now
	return nil
}

// Clone returns a copy that shares no pointers with m.
func (m *Match) Clone() *Match {
	c := *m
	c.RetryOf = cloneUUID(m.RetryOf)
	if m.Winner != nil {
		w := *m.Winner
		c.Winner = &w
	}
	c.Termination = cloneString(m.Termination)
	c.FinalFEN = cloneString(m.FinalFEN)
	c.ErrorMessage = cloneString(m.ErrorMessage)
	if m.AvgAgentResponseMs != nil {
		v := *m.AvgAgentResponseMs
		c.AvgAgentResponseMs = &v
	}
	c.StartedAt = cloneTime(m.StartedAt)
	c.CompletedAt = cloneTime(m.CompletedAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
