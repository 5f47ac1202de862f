package match

import (
	"time"

	"github.com/google/uuid"
)

// Move is one persisted ply. Prompt, Response and Tokens are set only for
// agent moves.
type Move struct {
	ID         uuid.UUID
	MatchID    uuid.UUID
	Ply        int
	FullMove   int
	Player     Player
	Notation   string
	UCI        string
	FENBefore  string
	FENAfter   string
	Prompt     *string
	Response   *string
	Tokens     *int
	RetryCount int
	ResponseMs int64
	CreatedAt  time.Time
}

// FullMoveNumber returns the traditional move-pair number for a ply:
// plies 1 and 2 share move 1.
func FullMoveNumber(ply int) int {
	return (ply + 1) / 2
}

// AgentTurn carries what the agent produced for a ply.
type AgentTurn struct {
	Notation   string
	UCI        string
	Prompt     string
	Response   string
	Tokens     int
	RetryCount int
	Elapsed    time.Duration
}

// NewAgentMove builds the record for an agent ply.
func NewAgentMove(matchID uuid.UUID, ply int, fenBefore, fenAfter string, t AgentTurn, now time.Time) Move {
	prompt := t.Prompt
	resp := t.Response
	tokens := t.Tokens
	return Move{
		ID:         uuid.New(),
		MatchID:    matchID,
		Ply:        ply,
		FullMove:   FullMoveNumber(ply),
		Player:     PlayerAgent,
		Notation:   t.Notation,
		UCI:        t.UCI,
		FENBefore:  fenBefore,
		FENAfter:   fenAfter,
		Prompt:     &prompt,
		Response:   &resp,
		Tokens:     &tokens,
		RetryCount: t.RetryCount,
		ResponseMs: t.Elapsed.Milliseconds(),
		CreatedAt:  now,
	}
}

// NewEngineMove builds the record for an engine ply.
func NewEngineMove(matchID uuid.UUID, ply int, notation, uci, fenBefore, fenAfter string, elapsed time.Duration, now time.Time) Move {
	return Move{
		ID:         uuid.New(),
		MatchID:    matchID,
		Ply:        ply,
		FullMove:   FullMoveNumber(ply),
		Player:     PlayerEngine,
		Notation:   notation,
		UCI:        uci,
		FENBefore:  fenBefore,
		FENAfter:   fenAfter,
		ResponseMs: elapsed.Milliseconds(),
		CreatedAt:  now,
	}
}

// Agent is the persona profile that plays the agent side.
type Agent struct {
	ID        uuid.UUID
	Name      string
	Persona   string
	CreatedAt time.Time
}
