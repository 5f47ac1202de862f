package movegen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/rules"
)

const systemPrompt = "You are playing a game of chess as White against a chess engine. " +
	"Reply with your reasoning if you like, but always end with one line of the form MOVE: <move>."

const instruction = "\n\nPick one move from the legal moves above. " +
	"End your reply with a single line in the form:\nMOVE: <move in SAN>"

const correction = "\n\nYour previous response was invalid. Respond EXACTLY as MOVE: <move>, " +
	"using one of the legal moves listed above."

func buildPrompt(agent match.Agent, pos rules.Position, history []match.Move) string {
	var b strings.Builder
	if p := strings.TrimSpace(agent.Persona); p != "" {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Current position (FEN): %s\n\n", pos.FEN)
	b.WriteString("Moves so far:\n")
	b.WriteString(Transcript(history))
	b.WriteString("\n\nLegal moves: ")
	b.WriteString(strings.Join(pos.Legal, ", "))
	b.WriteString(instruction)
	return b.String()
}

// Transcript renders moves as numbered pairs, "1. e4 e5\n2. Nf3".
func Transcript(history []match.Move) string {
	if len(history) == 0 {
		return "(none)"
	}
	moves := make([]match.Move, len(history))
	copy(moves, history)
	sort.Slice(moves, func(i, j int) bool { return moves[i].Ply < moves[j].Ply })

	var lines []string
	for i := 0; i < len(moves); i += 2 {
		line := fmt.Sprintf("%d. %s", match.FullMoveNumber(moves[i].Ply), moves[i].Notation)
		if i+1 < len(moves) {
			line += " " + moves[i+1].Notation
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
