package rules_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomtoy/chess-arena/internal/rules"
)

func TestStart(t *testing.T) {
	c := rules.NewChess()
	pos := c.Start()

	assert.Equal(t, rules.StartFEN, pos.FEN)
	assert.Len(t, pos.Legal, 20)
	assert.Contains(t, pos.Legal, "e4")
	assert.Contains(t, pos.Legal, "Nf3")
	assert.False(t, c.IsGameOver(pos))
	assert.Equal(t, rules.ResultNone, c.Result(pos))
}

func TestApply_ChainsFEN(t *testing.T) {
	c := rules.NewChess()
	start := c.Start()

	afterE4, err := c.Apply(start, "e4")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(afterE4.FEN, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq"), afterE4.FEN)

	afterE5, err := c.Apply(afterE4, "e5")
	require.NoError(t, err)
	assert.NotEqual(t, afterE4.FEN, afterE5.FEN)

	// The input position is a value and must not drift.
	assert.Equal(t, rules.StartFEN, start.FEN)
}

func TestApply_Illegal(t *testing.T) {
	c := rules.NewChess()
	_, err := c.Apply(c.Start(), "e5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, rules.ErrIllegalMove))
}

func TestCanonical(t *testing.T) {
	c := rules.NewChess()
	start := c.Start()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"e4", "e4", true},
		{" Nf3 ", "Nf3", true},
		{"e2e4", "e4", true},
		{"g1f3", "Nf3", true},
		{"Nf3!?", "Nf3", true},
		{"Ke2", "", false},
		{"", "", false},
		{"zzzz", "", false},
	}
	for _, tt := range tests {
		got, ok := c.Canonical(start, tt.in)
		assert.Equal(t, tt.ok, ok, "Canonical(%q) ok", tt.in)
		assert.Equal(t, tt.want, got, "Canonical(%q)", tt.in)
	}
}

func TestCanonical_CastlingSpellings(t *testing.T) {
	c := rules.NewChess()
	pos, err := c.Load("r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1")
	require.NoError(t, err)

	for _, in := range []string{"O-O", "0-0", "e1g1", "O-O+"} {
		got, ok := c.Canonical(pos, in)
		require.True(t, ok, in)
		assert.Equal(t, "O-O", strings.TrimRight(got, "+"), in)
	}
}

func TestFromUCI(t *testing.T) {
	c := rules.NewChess()
	start := c.Start()

	san, err := c.FromUCI(start, "g1f3")
	require.NoError(t, err)
	assert.Equal(t, "Nf3", san)

	_, err = c.FromUCI(start, "e2e5")
	assert.True(t, errors.Is(err, rules.ErrNoMatch))
}

func TestFromUCI_SameDestinationUsesOrigin(t *testing.T) {
	c := rules.NewChess()
	// Both knights can reach d2; only the full from/to picks the right one.
	pos, err := c.Load("4k3/8/8/8/8/8/8/1N2KN2 w - - 0 1")
	require.NoError(t, err)

	fromB1, err := c.FromUCI(pos, "b1d2")
	require.NoError(t, err)
	fromF1, err := c.FromUCI(pos, "f1d2")
	require.NoError(t, err)

	assert.Equal(t, "Nbd2", fromB1)
	assert.Equal(t, "Nfd2", fromF1)
}

func TestCheckmate(t *testing.T) {
	c := rules.NewChess()
	pos := c.Start()
	for _, mv := range []string{"f3", "e5", "h3", "d5", "g4", "Qh4#"} {
		var err error
		pos, err = c.Apply(pos, mv)
		require.NoError(t, err, mv)
	}
	assert.True(t, c.IsGameOver(pos))
	assert.Equal(t, rules.ResultCheckmate, c.Result(pos))
	assert.Equal(t, "checkmate", c.Termination(pos))
	assert.Empty(t, pos.Legal)
}

func TestStalemate_Loaded(t *testing.T) {
	c := rules.NewChess()
	pos, err := c.Load("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	require.NoError(t, err)
	assert.True(t, c.IsGameOver(pos))
	assert.Equal(t, rules.ResultStalemate, c.Result(pos))
}

func TestStalemate_Applied(t *testing.T) {
	c := rules.NewChess()
	pos, err := c.Load("7k/8/6K1/8/8/8/8/5Q2 w - - 0 1")
	require.NoError(t, err)

	pos, err = c.Apply(pos, "Qf7")
	require.NoError(t, err)
	assert.True(t, c.IsGameOver(pos))
	assert.Equal(t, rules.ResultStalemate, c.Result(pos))
}

func TestInsufficientMaterial_IsGenericDraw(t *testing.T) {
	c := rules.NewChess()
	// White king takes the last black piece, leaving bare kings.
	pos, err := c.Load("8/8/8/8/8/k7/3n4/3K4 w - - 0 1")
	require.NoError(t, err)

	pos, err = c.Apply(pos, "Kxd2")
	require.NoError(t, err)
	assert.True(t, c.IsGameOver(pos))
	assert.Equal(t, rules.ResultNone, c.Result(pos))
	assert.Equal(t, "insufficient material", c.Termination(pos))
}

func TestUCI(t *testing.T) {
	c := rules.NewChess()
	uci, err := c.UCI(c.Start(), "Nf3")
	require.NoError(t, err)
	assert.Equal(t, "g1f3", uci)
}

func TestLoad_InvalidFEN(t *testing.T) {
	c := rules.NewChess()
	_, err := c.Load("not a fen")
	assert.True(t, errors.Is(err, rules.ErrInvalidFEN))
}

func TestPGN(t *testing.T) {
	c := rules.NewChess()
	pgn, err := c.PGN(map[string]string{"White": "agent", "Black": "engine"},
		[]string{"e4", "e5", "Nf3"})
	require.NoError(t, err)
	assert.Contains(t, pgn, `[White "agent"]`)
	assert.Contains(t, pgn, "e4 e5")
	assert.Contains(t, pgn, "Nf3")

	_, err = c.PGN(nil, []string{"e5"})
	assert.True(t, errors.Is(err, rules.ErrIllegalMove))
}

func TestApply_ThreefoldRepetitionEndsGame(t *testing.T) {
	c := rules.NewChess()
	pos := c.Start()
	shuffle := []string{"Nf3", "Nf6", "Ng1", "Ng8"}

	var err error
	for _, mv := range shuffle {
		pos, err = c.Apply(pos, mv)
		require.NoError(t, err)
	}
	// Second occurrence of the start position.
	assert.False(t, c.IsGameOver(pos))
	assert.Equal(t, rules.StartFEN, pos.FEN)

	for i, mv := range shuffle {
		pos, err = c.Apply(pos, mv)
		require.NoError(t, err)
		if i < len(shuffle)-1 {
			assert.False(t, c.IsGameOver(pos), "over after %s", mv)
		}
	}
	assert.True(t, c.IsGameOver(pos))
	assert.Equal(t, rules.ResultNone, c.Result(pos))
	assert.Equal(t, "threefold repetition", c.Termination(pos))
}

func TestApply_HistoryStartsAtLoadedPosition(t *testing.T) {
	c := rules.NewChess()
	// Loading the same FEN twice does not count as a repetition.
	pos, err := c.Load(rules.StartFEN)
	require.NoError(t, err)
	pos, err = c.Load(pos.FEN)
	require.NoError(t, err)

	for _, mv := range []string{"Nf3", "Nf6", "Ng1", "Ng8"} {
		pos, err = c.Apply(pos, mv)
		require.NoError(t, err)
	}
	assert.False(t, c.IsGameOver(pos))
}

func TestFromUCI_NormalizesInput(t *testing.T) {
	c := rules.NewChess()
	san, err := c.FromUCI(c.Start(), "G1F3 ")
	require.NoError(t, err)
	assert.Equal(t, "Nf3", san)
}
