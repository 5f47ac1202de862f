package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/notnil/chess"
)

// Chess implements Engine on top of github.com/notnil/chess.
type Chess struct{}

// Compile-time check that Chess implements Engine.
var _ Engine = (*Chess)(nil)

// NewChess returns a stateless rules engine.
func NewChess() *Chess {
	return &Chess{}
}

func (c *Chess) Start() Position {
	pos, err := c.Load(StartFEN)
	if err != nil {
		panic(fmt.Sprintf("rules: start position: %v", err))
	}
	return pos
}

func (c *Chess) Load(fen string) (Position, error) {
	g, err := gameFromFEN(fen)
	if err != nil {
		return Position{}, err
	}
	pos := positionOf(g)
	if len(pos.Legal) == 0 {
		pos.over = true
		switch g.Position().Status() {
		case chess.Checkmate:
			pos.result = ResultCheckmate
		case chess.Stalemate:
			pos.result = ResultStalemate
		default:
			pos.result = ResultNone
		}
		pos.detail = string(pos.result)
		if pos.result == ResultNone {
			pos.detail = "draw"
		}
	}
	return pos, nil
}

func (c *Chess) LegalMoves(pos Position) []string {
	out := make([]string, len(pos.Legal))
	copy(out, pos.Legal)
	return out
}

func (c *Chess) IsLegal(pos Position, move string) bool {
	_, ok := c.Canonical(pos, move)
	return ok
}

func (c *Chess) Canonical(pos Position, move string) (string, bool) {
	g, err := gameFromFEN(pos.FEN)
	if err != nil {
		return "", false
	}
	m, ok := findMove(g, move)
	if !ok {
		return "", false
	}
	return chess.AlgebraicNotation{}.Encode(g.Position(), m), true
}

func (c *Chess) Apply(pos Position, move string) (Position, error) {
	g, err := replay(pos)
	if err != nil {
		return Position{}, err
	}
	m, ok := findMove(g, move)
	if !ok {
		return Position{}, fmt.Errorf("%w: %q in %s", ErrIllegalMove, move, pos.FEN)
	}
	played := chess.UCINotation{}.Encode(g.Position(), m)
	if err := g.Move(m); err != nil {
		return Position{}, fmt.Errorf("%w: %q: %v", ErrIllegalMove, move, err)
	}
	claimRepetition(g)

	next := positionOf(g)
	next.root = rootOf(pos)
	next.history = append(append(make([]string, 0, len(pos.history)+1), pos.history...), played)
	if g.Outcome() != chess.NoOutcome {
		next.over = true
		next.result, next.detail = describe(g.Method())
	} else if len(next.Legal) == 0 {
		next.over = true
	}
	return next, nil
}

func (c *Chess) IsGameOver(pos Position) bool {
	return pos.over
}

func (c *Chess) Result(pos Position) Result {
	if !pos.over || pos.result == "" {
		return ResultNone
	}
	return pos.result
}

func (c *Chess) Termination(pos Position) string {
	if !pos.over {
		return ""
	}
	if pos.detail == "" {
		return "draw"
	}
	return pos.detail
}

func (c *Chess) UCI(pos Position, move string) (string, error) {
	g, err := gameFromFEN(pos.FEN)
	if err != nil {
		return "", err
	}
	m, ok := findMove(g, move)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrIllegalMove, move)
	}
	return chess.UCINotation{}.Encode(g.Position(), m), nil
}

func (c *Chess) FromUCI(pos Position, uci string) (string, error) {
	g, err := gameFromFEN(pos.FEN)
	if err != nil {
		return "", err
	}
	want := strings.ToLower(strings.TrimSpace(uci))
	gp := g.Position()

	var matches []string
	uciEnc := chess.UCINotation{}
	for _, m := range g.ValidMoves() {
		if uciEnc.Encode(gp, m) == want {
			matches = append(matches, chess.AlgebraicNotation{}.Encode(gp, m))
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %q", ErrNoMatch, uci)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("%w: %q matches %s", ErrAmbiguousMove, uci, strings.Join(matches, ", "))
	}
}

// PGN replays moves from the initial position and renders the game.
func (c *Chess) PGN(tags map[string]string, moves []string) (string, error) {
	g := chess.NewGame(chess.UseNotation(chess.AlgebraicNotation{}))
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		g.AddTagPair(k, tags[k])
	}
	for i, mv := range moves {
		m, ok := findMove(g, mv)
		if !ok {
			return "", fmt.Errorf("%w: ply %d %q", ErrIllegalMove, i+1, mv)
		}
		if err := g.Move(m); err != nil {
			return "", fmt.Errorf("ply %d %q: %w", i+1, mv, err)
		}
	}
	return g.String(), nil
}

func gameFromFEN(fen string) (*chess.Game, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return chess.NewGame(opt, chess.UseNotation(chess.AlgebraicNotation{})), nil
}

// replay rebuilds the game behind pos, history included, so the library can
// count repetitions.
func replay(pos Position) (*chess.Game, error) {
	g, err := gameFromFEN(rootOf(pos))
	if err != nil {
		return nil, err
	}
	for i, mv := range pos.history {
		m, ok := findMove(g, mv)
		if !ok {
			return nil, fmt.Errorf("%w: history ply %d %q", ErrIllegalMove, i+1, mv)
		}
		if err := g.Move(m); err != nil {
			return nil, fmt.Errorf("history ply %d %q: %w", i+1, mv, err)
		}
	}
	return g, nil
}

func rootOf(pos Position) string {
	if pos.root == "" {
		return pos.FEN
	}
	return pos.root
}

// claimRepetition ends the game on a threefold repetition. The library only
// ends fivefold repetitions on its own.
func claimRepetition(g *chess.Game) {
	if g.Outcome() != chess.NoOutcome {
		return
	}
	for _, d := range g.EligibleDraws() {
		if d == chess.ThreefoldRepetition {
			_ = g.Draw(chess.ThreefoldRepetition)
			return
		}
	}
}

func positionOf(g *chess.Game) Position {
	gp := g.Position()
	moves := g.ValidMoves()
	legal := make([]string, 0, len(moves))
	for _, m := range moves {
		legal = append(legal, chess.AlgebraicNotation{}.Encode(gp, m))
	}
	return Position{FEN: gp.String(), Legal: legal}
}

// findMove resolves a loosely written move against the legal moves of g.
func findMove(g *chess.Game, raw string) (*chess.Move, bool) {
	want := normalizeSAN(raw)
	if want == "" {
		return nil, false
	}
	gp := g.Position()
	lower := strings.ToLower(want)
	for _, m := range g.ValidMoves() {
		if normalizeSAN(chess.AlgebraicNotation{}.Encode(gp, m)) == want {
			return m, true
		}
	}
	uciEnc := chess.UCINotation{}
	for _, m := range g.ValidMoves() {
		if uciEnc.Encode(gp, m) == lower {
			return m, true
		}
	}
	return nil, false
}

// normalizeSAN strips annotations that do not change which move is meant.
func normalizeSAN(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "+#!?")
	s = strings.TrimSuffix(s, "e.p.")
	s = strings.TrimSpace(s)
	switch s {
	case "0-0", "o-o":
		s = "O-O"
	case "0-0-0", "o-o-o":
		s = "O-O-O"
	}
	return strings.ReplaceAll(s, "=", "")
}

func describe(method chess.Method) (Result, string) {
	switch method {
	case chess.Checkmate:
		return ResultCheckmate, "checkmate"
	case chess.Stalemate:
		return ResultStalemate, "stalemate"
	case chess.InsufficientMaterial:
		return ResultNone, "insufficient material"
	case chess.ThreefoldRepetition:
		return ResultNone, "threefold repetition"
	case chess.FivefoldRepetition:
		return ResultNone, "fivefold repetition"
	case chess.FiftyMoveRule:
		return ResultNone, "fifty-move rule"
	case chess.SeventyFiveMoveRule:
		return ResultNone, "seventy-five move rule"
	default:
		return ResultNone, "draw"
	}
}
