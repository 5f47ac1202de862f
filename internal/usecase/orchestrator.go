package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/engine"
	"github.com/randomtoy/chess-arena/internal/llm"
	"github.com/randomtoy/chess-arena/internal/movegen"
	"github.com/randomtoy/chess-arena/internal/ports"
	"github.com/randomtoy/chess-arena/internal/rules"
	"github.com/randomtoy/chess-arena/internal/stats"
)

// ErrorNotice is the only error text observers ever see.
const ErrorNotice = "match encountered an error"

// failTimeout bounds the writes made while marking a match errored.
const failTimeout = 10 * time.Second

// EngineProcess is one engine subprocess owned by a single run.
type EngineProcess interface {
	Start(ctx context.Context, level int) error
	BestMove(ctx context.Context, pos rules.Position) (engine.Result, error)
	Close() error
}

// EngineFactory returns a fresh, unstarted engine for each run.
type EngineFactory func() EngineProcess

// MoveGenerator produces the agent's moves.
type MoveGenerator interface {
	Generate(ctx context.Context, agent match.Agent, pos rules.Position, history []match.Move) (movegen.Generated, error)
}

// GeneratorFactory builds a generator for the caller's model credentials.
// It must fail with *llm.ConfigurationError before any network call when the
// credentials are unusable.
type GeneratorFactory func(creds llm.Config) (MoveGenerator, error)

// RunRequest is the invocation boundary used by the job layer.
type RunRequest struct {
	MatchID        uuid.UUID
	AgentID        uuid.UUID
	EngineStrength int
	Credentials    llm.Config
}

// Orchestrator drives one match from start to a terminal state.
type Orchestrator struct {
	matches    ports.MatchStore
	agents     ports.AgentStore
	rules      rules.Engine
	engines    EngineFactory
	generators GeneratorFactory

	broadcaster ports.Broadcaster
	archiver    ports.Archiver
	stats       stats.Collector
	log         *zap.Logger
	now         func() time.Time
}

type OrchestratorOption func(*Orchestrator)

func WithBroadcaster(b ports.Broadcaster) OrchestratorOption {
	return func(o *Orchestrator) { o.broadcaster = b }
}

// WithArchiver stores the PGN of every completed match.
func WithArchiver(a ports.Archiver) OrchestratorOption {
	return func(o *Orchestrator) { o.archiver = a }
}

func WithStats(c stats.Collector) OrchestratorOption {
	return func(o *Orchestrator) { o.stats = c }
}

func WithLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(
	matches ports.MatchStore,
	agents ports.AgentStore,
	r rules.Engine,
	engines EngineFactory,
	generators GeneratorFactory,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		matches:     matches,
		agents:      agents,
		rules:       r,
		engines:     engines,
		generators:  generators,
		broadcaster: nopBroadcaster{},
		stats:       stats.Noop{},
		log:         zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.Named("orchestrator")
	return o
}

// Run plays the match to completion. On any failure the match is marked
// errored exactly once before the wrapped cause is returned, and the engine
// process is released on every path.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (err error) {
	log := o.log.With(zap.String("match_id", req.MatchID.String()))

	m, err := o.matches.GetMatch(ctx, req.MatchID)
	if err != nil {
		return fmt.Errorf("load match %s: %w", req.MatchID, err)
	}
	// Another run owns it, or it is already finished.
	if m.Status != match.StatusPending {
		return fmt.Errorf("run match %s: %w: status %s", req.MatchID, match.ErrInvalidTransition, m.Status)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("match run panicked: %v", r)
		}
		if err != nil {
			o.fail(ctx, m, err, log)
		}
	}()

	agent, err := o.agents.GetAgent(ctx, req.AgentID)
	if err != nil {
		return fmt.Errorf("load agent %s: %w", req.AgentID, err)
	}
	gen, err := o.generators(req.Credentials)
	if err != nil {
		return fmt.Errorf("configure agent: %w", err)
	}
	strength := req.EngineStrength
	if strength == 0 {
		strength = m.EngineStrength
	}

	if err := m.Start(o.now()); err != nil {
		return err
	}
	if err := o.matches.UpdateMatch(ctx, m); err != nil {
		return fmt.Errorf("persist start: %w", err)
	}
	o.stats.IncCounter(stats.MetricMatchesStarted, 1)
	o.stats.AddGauge(stats.MetricMatchesRunning, 1)
	defer o.stats.AddGauge(stats.MetricMatchesRunning, -1)
	o.publish(ctx, m, ports.Update{Type: ports.UpdateStatus})
	log.Info("match started", zap.Int("engine_strength", strength), zap.String("agent", agent.Name))

	proc := o.engines()
	defer proc.Close()
	if err := proc.Start(ctx, strength); err != nil {
		return err
	}

	g := &game{
		o:     o,
		m:     m,
		agent: agent,
		gen:   gen,
		proc:  proc,
		model: req.Credentials.Model,
		pos:   o.rules.Start(),
		turn:  match.PlayerAgent,
		log:   log,
	}
	if err := g.play(ctx); err != nil {
		return err
	}
	return o.finish(ctx, g)
}

// game is the state of one run: the position cursor and the move log.
type game struct {
	o     *Orchestrator
	m     *match.Match
	agent match.Agent
	gen   MoveGenerator
	proc  EngineProcess
	model string
	log   *zap.Logger

	pos        rules.Position
	turn       match.Player
	lastMover  match.Player
	history    []match.Move
	agentTimes []float64
}

func (g *game) play(ctx context.Context) error {
	for !g.o.rules.IsGameOver(g.pos) {
		ply := g.m.MoveCount + 1

		var (
			mv   match.Move
			next rules.Position
			cost float64
			err  error
		)
		switch g.turn {
		case match.PlayerAgent:
			mv, next, cost, err = g.agentTurn(ctx, ply)
		default:
			mv, next, err = g.engineTurn(ctx, ply)
		}
		if err != nil {
			return err
		}

		if err := g.o.matches.CreateMove(ctx, mv); err != nil {
			return fmt.Errorf("persist ply %d: %w", ply, err)
		}
		if err := g.m.RecordMove(mv, cost, g.o.now()); err != nil {
			return fmt.Errorf("record ply %d: %w", ply, err)
		}
		if err := g.o.matches.UpdateMatch(ctx, g.m); err != nil {
			return fmt.Errorf("persist match after ply %d: %w", ply, err)
		}

		g.history = append(g.history, mv)
		g.pos = next
		g.lastMover = g.turn
		g.turn = g.turn.Opponent()

		g.o.stats.IncCounter(stats.MetricMoves, 1)
		g.o.publish(ctx, g.m, ports.Update{Type: ports.UpdateMove, Move: &mv})
		g.log.Debug("move played",
			zap.Int("ply", ply), zap.String("player", string(mv.Player)),
			zap.String("move", mv.Notation), zap.Int64("elapsed_ms", mv.ResponseMs))
	}
	return nil
}

func (g *game) agentTurn(ctx context.Context, ply int) (match.Move, rules.Position, float64, error) {
	gen, err := g.gen.Generate(ctx, g.agent, g.pos, g.history)
	if err != nil {
		return match.Move{}, rules.Position{}, 0, fmt.Errorf("agent move at ply %d: %w", ply, err)
	}
	next, err := g.o.rules.Apply(g.pos, gen.Move)
	if err != nil {
		return match.Move{}, rules.Position{}, 0, fmt.Errorf("apply agent move at ply %d: %w", ply, err)
	}

	mv := match.NewAgentMove(g.m.ID, ply, g.pos.FEN, next.FEN, gen.Turn(), g.o.now())
	cost := llm.EstimateCost(g.model, gen.PromptTokens, gen.CompletionTokens)
	g.agentTimes = append(g.agentTimes, float64(mv.ResponseMs))

	g.o.stats.IncCounter(stats.MetricTokens, int64(gen.Tokens))
	g.o.stats.IncCounter(stats.MetricAgentRetries, int64(gen.RetryCount))
	g.o.stats.ObserveHistogram(stats.MetricAgentMoveSeconds, gen.Elapsed.Seconds())
	return mv, next, cost, nil
}

func (g *game) engineTurn(ctx context.Context, ply int) (match.Move, rules.Position, error) {
	res, err := g.proc.BestMove(ctx, g.pos)
	if err != nil {
		return match.Move{}, rules.Position{}, fmt.Errorf("engine move at ply %d: %w", ply, err)
	}
	next, err := g.o.rules.Apply(g.pos, res.Notation)
	if err != nil {
		return match.Move{}, rules.Position{}, fmt.Errorf("apply engine move at ply %d: %w", ply, err)
	}

	g.o.stats.ObserveHistogram(stats.MetricEngineMoveSeconds, res.Elapsed.Seconds())
	return match.NewEngineMove(g.m.ID, ply, res.Notation, res.UCI, g.pos.FEN, next.FEN, res.Elapsed, g.o.now()), next, nil
}

func (o *Orchestrator) finish(ctx context.Context, g *game) error {
	winner, reason := outcome(o.rules, g.pos, g.lastMover)

	var avg *int64
	if len(g.agentTimes) > 0 {
		v := int64(math.Round(stat.Mean(g.agentTimes, nil)))
		avg = &v
	}

	done := g.m.Clone()
	if err := done.Complete(winner, reason, g.pos.FEN, avg, o.now()); err != nil {
		return err
	}
	if err := o.matches.UpdateMatch(ctx, done); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}
	*g.m = *done
	o.stats.IncCounter(stats.MetricMatchesCompleted, 1)
	o.publish(ctx, g.m, ports.Update{Type: ports.UpdateCompleted})
	g.log.Info("match completed",
		zap.String("winner", string(winner)), zap.String("termination", reason),
		zap.Int("moves", g.m.MoveCount), zap.Int("tokens", g.m.TotalTokens))

	o.archive(ctx, g)
	return nil
}

// outcome maps a finished position to a winner. Checkmate goes to the side
// that made the last move; everything else is a draw.
func outcome(r rules.Engine, pos rules.Position, lastMover match.Player) (match.Winner, string) {
	switch r.Result(pos) {
	case rules.ResultCheckmate:
		if lastMover == match.PlayerAgent {
			return match.WinnerAgent, "checkmate"
		}
		return match.WinnerEngine, "checkmate"
	case rules.ResultStalemate:
		return match.WinnerDraw, "stalemate"
	}
	detail := r.Termination(pos)
	if detail == "" || detail == "draw" {
		return match.WinnerDraw, "draw"
	}
	return match.WinnerDraw, "draw: " + detail
}

func (o *Orchestrator) archive(ctx context.Context, g *game) {
	if o.archiver == nil {
		return
	}
	sans := make([]string, len(g.history))
	for i, mv := range g.history {
		sans[i] = mv.Notation
	}
	pgn, err := o.rules.PGN(pgnTags(g), sans)
	if err != nil {
		g.log.Warn("render pgn", zap.Error(err))
		return
	}
	if err := o.archiver.Archive(ctx, g.m, pgn); err != nil {
		g.log.Warn("archive match", zap.Error(err))
	}
}

func pgnTags(g *game) map[string]string {
	tags := map[string]string{
		"Event":       "chess-arena",
		"Site":        g.m.ID.String(),
		"White":       g.agent.Name,
		"Black":       fmt.Sprintf("engine level %d", g.m.EngineStrength),
		"Termination": derefString(g.m.Termination),
	}
	if g.m.StartedAt != nil {
		tags["Date"] = g.m.StartedAt.UTC().Format("2006.01.02")
	}
	if g.m.Winner != nil {
		switch *g.m.Winner {
		case match.WinnerAgent:
			tags["Result"] = "1-0"
		case match.WinnerEngine:
			tags["Result"] = "0-1"
		default:
			tags["Result"] = "1/2-1/2"
		}
	}
	return tags
}

// fail marks the match errored using a context that outlives cancellation of
// the run, so the match is never left in_progress.
func (o *Orchestrator) fail(ctx context.Context, m *match.Match, cause error, log *zap.Logger) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failTimeout)
	defer cancel()

	if err := m.Fail(cause.Error(), o.now()); err != nil {
		log.Warn("match not marked errored", zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	if err := o.matches.UpdateMatch(fctx, m); err != nil {
		log.Error("persist errored match", zap.Error(err), zap.NamedError("cause", cause))
	}
	o.stats.IncCounter(stats.MetricMatchesErrored, 1)
	o.publish(fctx, m, ports.Update{Type: ports.UpdateError, Message: ErrorNotice})

	level := log.Error
	var inv *movegen.InvalidMoveError
	if errors.As(cause, &inv) {
		level = log.Warn
	}
	level("match errored", zap.Error(cause), zap.Int("moves", m.MoveCount))
}

// publish sends a snapshot; observers get their own copy of the match and
// never the stored error cause.
func (o *Orchestrator) publish(ctx context.Context, m *match.Match, u ports.Update) {
	u.Match = m.Clone()
	u.Match.ErrorMessage = nil
	o.broadcaster.Publish(ctx, m.ID, u)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(context.Context, uuid.UUID, ports.Update) {}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
