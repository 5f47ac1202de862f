// Package movegen asks a language model for the agent's next move and keeps
// asking, a bounded number of times, until the answer is a legal move.
package movegen

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/llm"
	"github.com/randomtoy/chess-arena/internal/rules"
)

const DefaultMaxAttempts = 3

const (
	ReasonNoMove  = "no parseable move"
	ReasonIllegal = "illegal move"
)

// InvalidMoveError means every attempt failed to produce a legal move.
type InvalidMoveError struct {
	Attempts int
	LastMove string
	Reason   string
}

func (e *InvalidMoveError) Error() string {
	if e.LastMove == "" {
		return fmt.Sprintf("%s after %d attempts", e.Reason, e.Attempts)
	}
	return fmt.Sprintf("%s %q after %d attempts", e.Reason, e.LastMove, e.Attempts)
}

// Generated is the accepted move plus the cost of every attempt it took.
type Generated struct {
	Move             string
	UCI              string
	Prompt           string
	Response         string
	Tokens           int
	PromptTokens     int
	CompletionTokens int
	Elapsed          time.Duration
	RetryCount       int
}

// Turn converts g into the fields persisted with an agent move.
func (g Generated) Turn() match.AgentTurn {
	return match.AgentTurn{
		Notation:   g.Move,
		UCI:        g.UCI,
		Prompt:     g.Prompt,
		Response:   g.Response,
		Tokens:     g.Tokens,
		RetryCount: g.RetryCount,
		Elapsed:    g.Elapsed,
	}
}

type Generator struct {
	client      llm.Client
	rules       rules.Engine
	log         *zap.Logger
	maxAttempts int
}

type Option func(*Generator)

func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

func New(client llm.Client, r rules.Engine, opts ...Option) *Generator {
	g := &Generator{
		client:      client,
		rules:       r,
		log:         zap.NewNop(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, o := range opts {
		o(g)
	}
	g.log = g.log.Named("movegen")
	return g
}

// Generate returns one legal move for the side to move in pos. Model API
// failures are returned at once and never consume attempts.
func (g *Generator) Generate(ctx context.Context, agent match.Agent, pos rules.Position, history []match.Move) (Generated, error) {
	if g.client == nil {
		return Generated{}, &llm.ConfigurationError{Reason: "no language model client"}
	}
	if err := g.client.Config().Validate(); err != nil {
		return Generated{}, err
	}

	var (
		out       Generated
		prompts   []string
		responses []string
		lastMove  string
		reason    string
	)
	base := buildPrompt(agent, pos, history)
	started := time.Now()

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		prompt := base
		if attempt > 1 {
			prompt += correction
		}
		prompts = append(prompts, prompt)

		resp, err := g.client.Complete(ctx, llm.Request{System: systemPrompt, Prompt: prompt})
		if err != nil {
			return Generated{}, fmt.Errorf("move generation attempt %d: %w", attempt, err)
		}
		responses = append(responses, resp.Text)
		out.Tokens += resp.TotalTokens
		out.PromptTokens += resp.PromptTokens
		out.CompletionTokens += resp.CompletionTokens

		candidate := ParseMove(resp.Text)
		if candidate == "" {
			reason, lastMove = ReasonNoMove, ""
			g.log.Debug("no move in response", zap.Int("attempt", attempt))
			continue
		}
		san, ok := g.rules.Canonical(pos, candidate)
		if !ok {
			reason, lastMove = ReasonIllegal, candidate
			g.log.Debug("illegal move proposed", zap.Int("attempt", attempt), zap.String("move", candidate))
			continue
		}

		uci, err := g.rules.UCI(pos, san)
		if err != nil {
			return Generated{}, err
		}
		out.Move = san
		out.UCI = uci
		out.RetryCount = attempt - 1
		out.Prompt = joinAttempts(prompts)
		out.Response = joinAttempts(responses)
		out.Elapsed = time.Since(started)
		return out, nil
	}

	g.log.Info("model exhausted its attempts",
		zap.Int("attempts", g.maxAttempts), zap.String("reason", reason), zap.String("move", lastMove))
	return Generated{}, &InvalidMoveError{Attempts: g.maxAttempts, LastMove: lastMove, Reason: reason}
}

// joinAttempts concatenates per-attempt logs with a marker before each retry.
func joinAttempts(parts []string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			fmt.Fprintf(&b, "\n\n--- RETRY %d ---\n\n", i)
		}
		b.WriteString(p)
	}
	return b.String()
}

var moveRe = regexp.MustCompile("(?i)MOVE:[\\s*_`\"']*([^\\s*`\"']+)")

// ParseMove extracts the token after the first MOVE: marker, or "".
func ParseMove(text string) string {
	m := moveRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.Trim(m[1], ".,;:()[]<>_")
}
