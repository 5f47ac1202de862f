// Package rules adapts a chess rules library to the narrow interface the match
// loop needs. Positions are plain values that carry the moves played since
// they were loaded, so a single Engine can serve any number of concurrent
// matches and still detect repetitions.
package rules

import (
	"errors"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Result is the decisive outcome reported for a finished position. Any other
// game-over condition is reported as ResultNone and treated as a draw.
type Result string

const (
	ResultNone      Result = "none"
	ResultCheckmate Result = "checkmate"
	ResultStalemate Result = "stalemate"
)

var (
	ErrIllegalMove   = errors.New("illegal_move")
	ErrInvalidFEN    = errors.New("invalid_fen")
	ErrNoMatch       = errors.New("no_matching_move")
	ErrAmbiguousMove = errors.New("ambiguous_move")
)

// Position is a serialized board state plus the legal moves in it (SAN).
type Position struct {
	FEN   string
	Legal []string

	// root is the FEN the history starts from; empty means FEN itself.
	root    string
	history []string // UCI

	over   bool
	result Result
	detail string
}

// Engine answers legality and game-over questions about positions.
type Engine interface {
	// Start returns the standard initial position.
	Start() Position
	Load(fen string) (Position, error)
	LegalMoves(pos Position) []string
	IsLegal(pos Position, move string) bool
	// Canonical maps a loosely written move (SAN with or without check
	// suffixes, 0-0 castling, UCI coordinates) to the canonical SAN.
	Canonical(pos Position, move string) (string, bool)
	// Apply fails with ErrIllegalMove; callers are expected to check first.
	Apply(pos Position, move string) (Position, error)
	IsGameOver(pos Position) bool
	Result(pos Position) Result
	Termination(pos Position) string
	// UCI returns the coordinate form of a legal move.
	UCI(pos Position, move string) (string, error)
	// FromUCI translates an engine coordinate move into SAN by matching the
	// full from/to/promotion against every legal move.
	FromUCI(pos Position, uci string) (string, error)
	PGN(tags map[string]string, moves []string) (string, error)
}
