package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomtoy/chess-arena/internal/adapters/memory"
	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/engine"
	"github.com/randomtoy/chess-arena/internal/llm"
	"github.com/randomtoy/chess-arena/internal/movegen"
	"github.com/randomtoy/chess-arena/internal/ports"
	"github.com/randomtoy/chess-arena/internal/rules"
)

var testCreds = llm.Config{Provider: llm.ProviderOpenAI, APIKey: "k", Model: "gpt-4o-mini"}

// fakeEngine plays a fixed list of SAN moves. errs injects a failure at the
// given BestMove call index.
type fakeEngine struct {
	mu       sync.Mutex
	moves    []string
	errs     map[int]error
	startErr error
	calls    int
	level    int
	closed   int
}

func (e *fakeEngine) Start(_ context.Context, level int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.level = level
	return e.startErr
}

func (e *fakeEngine) BestMove(_ context.Context, pos rules.Position) (engine.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.calls
	e.calls++
	if err, ok := e.errs[i]; ok {
		return engine.Result{}, err
	}
	if i >= len(e.moves) {
		return engine.Result{}, &engine.TimeoutError{Op: "go", After: time.Second}
	}
	uci, err := rules.NewChess().UCI(pos, e.moves[i])
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Result{Notation: e.moves[i], UCI: uci, Elapsed: 20 * time.Millisecond}, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

func (e *fakeEngine) closedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// fakeGenerator answers with a fixed list of SAN moves.
type fakeGenerator struct {
	moves   []string
	elapsed []time.Duration
	errs    map[int]error
	calls   int
	hook    func(call int)
}

func (g *fakeGenerator) Generate(_ context.Context, _ match.Agent, pos rules.Position, _ []match.Move) (movegen.Generated, error) {
	i := g.calls
	g.calls++
	if g.hook != nil {
		g.hook(i)
	}
	if err, ok := g.errs[i]; ok {
		return movegen.Generated{}, err
	}
	if i >= len(g.moves) {
		return movegen.Generated{}, &movegen.InvalidMoveError{Attempts: 3, Reason: movegen.ReasonNoMove}
	}
	uci, err := rules.NewChess().UCI(pos, g.moves[i])
	if err != nil {
		return movegen.Generated{}, err
	}
	elapsed := 50 * time.Millisecond
	if i < len(g.elapsed) {
		elapsed = g.elapsed[i]
	}
	return movegen.Generated{
		Move:             g.moves[i],
		UCI:              uci,
		Prompt:           "prompt",
		Response:         "MOVE: " + g.moves[i],
		Tokens:           10,
		PromptTokens:     8,
		CompletionTokens: 2,
		Elapsed:          elapsed,
	}, nil
}

type recorder struct {
	mu  sync.Mutex
	got []ports.Update
}

func (r *recorder) Publish(_ context.Context, _ uuid.UUID, u ports.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, u)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, u := range r.got {
		out[i] = u.Type
	}
	return out
}

type archiveRecorder struct {
	pgn string
	id  uuid.UUID
}

func (a *archiveRecorder) Archive(_ context.Context, m *match.Match, pgn string) error {
	a.id, a.pgn = m.ID, pgn
	return nil
}

type harness struct {
	store *memory.Store
	agent match.Agent
	match *match.Match
	eng   *fakeEngine
	gen   *fakeGenerator
	pub   *recorder
	arch  *archiveRecorder
	orch  *Orchestrator
}

func newHarness(t *testing.T, agentMoves, engineMoves []string) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		store: memory.New(),
		agent: match.Agent{ID: uuid.New(), Name: "Tal", Persona: "attack", CreatedAt: time.Now()},
		eng:   &fakeEngine{moves: engineMoves},
		gen:   &fakeGenerator{moves: agentMoves},
		pub:   &recorder{},
		arch:  &archiveRecorder{},
	}
	require.NoError(t, h.store.CreateAgent(ctx, h.agent))

	m, err := match.New(uuid.New(), h.agent.ID, 3, testCreds.Provider, testCreds.Model, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.store.CreateMatch(ctx, m))
	h.match = m

	h.orch = NewOrchestrator(h.store, h.store, rules.NewChess(),
		func() EngineProcess { return h.eng },
		func(llm.Config) (MoveGenerator, error) { return h.gen, nil },
		WithBroadcaster(h.pub),
		WithArchiver(h.arch),
	)
	return h
}

func (h *harness) request() RunRequest {
	return RunRequest{MatchID: h.match.ID, AgentID: h.agent.ID, Credentials: testCreds}
}

func (h *harness) reload(t *testing.T) (*match.Match, []match.Move) {
	t.Helper()
	m, err := h.store.GetMatch(context.Background(), h.match.ID)
	require.NoError(t, err)
	moves, err := h.store.ListMoves(context.Background(), h.match.ID)
	require.NoError(t, err)
	return m, moves
}

func TestRun_EngineDeliversFoolsMate(t *testing.T) {
	h := newHarness(t, []string{"f3", "g4"}, []string{"e5", "Qh4#"})

	require.NoError(t, h.orch.Run(context.Background(), h.request()))

	m, moves := h.reload(t)
	assert.Equal(t, match.StatusCompleted, m.Status)
	require.NotNil(t, m.Winner)
	assert.Equal(t, match.WinnerEngine, *m.Winner)
	assert.Equal(t, "checkmate", *m.Termination)
	assert.Equal(t, 4, m.MoveCount)
	assert.Equal(t, 20, m.TotalTokens)
	assert.InDelta(t, 2*llm.EstimateCost("gpt-4o-mini", 8, 2), m.CostEstimate, 1e-12)
	require.NotNil(t, m.AvgAgentResponseMs)
	assert.Equal(t, int64(50), *m.AvgAgentResponseMs)
	assert.Equal(t, moves[len(moves)-1].FENAfter, *m.FinalFEN)
	assert.NotNil(t, m.StartedAt)
	assert.NotNil(t, m.CompletedAt)

	assert.Equal(t, 3, h.eng.level, "strength falls back to the match")
	assert.Equal(t, 1, h.eng.closedCount())
	assert.Equal(t, m.ID, h.arch.id)
	assert.Contains(t, h.arch.pgn, "Qh4#")
	assert.Contains(t, h.arch.pgn, "0-1")

	assert.Equal(t, []string{"status", "move", "move", "move", "move", "completed"}, h.pub.types())
}

func TestRun_EngineMatesOnPlySix(t *testing.T) {
	h := newHarness(t, []string{"a3", "f3", "g4"}, []string{"e5", "d6", "Qh4#"})
	h.gen.elapsed = []time.Duration{40 * time.Millisecond, 50 * time.Millisecond, 70 * time.Millisecond}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.orch = NewOrchestrator(h.store, h.store, rules.NewChess(),
		func() EngineProcess { return h.eng },
		func(llm.Config) (MoveGenerator, error) { return h.gen, nil },
		WithBroadcaster(h.pub),
		WithClock(func() time.Time { return at }),
	)

	require.NoError(t, h.orch.Run(context.Background(), h.request()))

	m, moves := h.reload(t)
	assert.Equal(t, match.StatusCompleted, m.Status)
	require.NotNil(t, m.Winner)
	assert.Equal(t, match.WinnerEngine, *m.Winner)
	assert.Equal(t, "checkmate", *m.Termination)
	assert.Equal(t, 6, m.MoveCount)
	require.Len(t, moves, 6)
	assert.Equal(t, match.PlayerEngine, moves[5].Player)
	assert.Equal(t, "Qh4#", moves[5].Notation)

	require.NotNil(t, m.CompletedAt)
	assert.True(t, at.Equal(*m.CompletedAt))
	// Engine plies (20ms each) stay out of the average: (40+50+70)/3 rounds to 53.
	require.NotNil(t, m.AvgAgentResponseMs)
	assert.Equal(t, int64(53), *m.AvgAgentResponseMs)
}

func TestRun_AgentDeliversScholarsMate(t *testing.T) {
	h := newHarness(t, []string{"e4", "Bc4", "Qh5", "Qxf7#"}, []string{"e5", "Nc6", "Nf6"})

	require.NoError(t, h.orch.Run(context.Background(), h.request()))

	m, moves := h.reload(t)
	assert.Equal(t, match.WinnerAgent, *m.Winner)
	assert.Equal(t, 7, m.MoveCount)
	assert.Len(t, moves, 7)
	assert.Equal(t, match.PlayerAgent, moves[6].Player)
}

func TestRun_MoveLogIsGaplessAndChained(t *testing.T) {
	h := newHarness(t, []string{"e4", "Bc4", "Qh5", "Qxf7#"}, []string{"e5", "Nc6", "Nf6"})
	require.NoError(t, h.orch.Run(context.Background(), h.request()))

	_, moves := h.reload(t)
	require.NotEmpty(t, moves)
	assert.Equal(t, rules.StartFEN, moves[0].FENBefore)
	for i, mv := range moves {
		assert.Equal(t, i+1, mv.Ply)
		assert.Equal(t, match.FullMoveNumber(i+1), mv.FullMove)
		if i%2 == 0 {
			assert.Equal(t, match.PlayerAgent, mv.Player, "ply %d", mv.Ply)
		} else {
			assert.Equal(t, match.PlayerEngine, mv.Player, "ply %d", mv.Ply)
		}
		if i > 0 {
			assert.Equal(t, moves[i-1].FENAfter, mv.FENBefore, "ply %d", mv.Ply)
		}
		assert.NotEmpty(t, mv.UCI)
	}
}

func TestRun_AgentOnlyFields(t *testing.T) {
	h := newHarness(t, []string{"f3", "g4"}, []string{"e5", "Qh4#"})
	require.NoError(t, h.orch.Run(context.Background(), h.request()))

	_, moves := h.reload(t)
	for _, mv := range moves {
		if mv.Player == match.PlayerAgent {
			require.NotNil(t, mv.Prompt)
			require.NotNil(t, mv.Response)
			require.NotNil(t, mv.Tokens)
			assert.Equal(t, 10, *mv.Tokens)
			continue
		}
		assert.Nil(t, mv.Prompt)
		assert.Nil(t, mv.Response)
		assert.Nil(t, mv.Tokens)
	}
}

func TestRun_EngineCrashMarksErroredAndKeepsMoves(t *testing.T) {
	h := newHarness(t, []string{"e4", "Nf3"}, []string{"e5"})
	crash := &engine.CrashedError{Op: "go", Err: errors.New("broken pipe")}
	h.eng.errs = map[int]error{1: crash}

	err := h.orch.Run(context.Background(), h.request())
	require.Error(t, err)
	var ce *engine.CrashedError
	assert.ErrorAs(t, err, &ce)

	m, moves := h.reload(t)
	assert.Equal(t, match.StatusErrored, m.Status)
	require.NotNil(t, m.ErrorMessage)
	assert.Contains(t, *m.ErrorMessage, "broken pipe")
	assert.Equal(t, 3, m.MoveCount)
	assert.Len(t, moves, 3)
	assert.Equal(t, "Nf3", moves[2].Notation)
	assert.Nil(t, m.Winner)
	assert.Equal(t, 1, h.eng.closedCount())

	types := h.pub.types()
	assert.Equal(t, "error", types[len(types)-1])
	h.pub.mu.Lock()
	assert.Equal(t, ErrorNotice, h.pub.got[len(h.pub.got)-1].Message)
	h.pub.mu.Unlock()
	assert.Empty(t, h.arch.pgn)
}

func TestRun_InvalidAgentMoveErrors(t *testing.T) {
	h := newHarness(t, nil, nil)

	err := h.orch.Run(context.Background(), h.request())
	var inv *movegen.InvalidMoveError
	require.ErrorAs(t, err, &inv)

	m, moves := h.reload(t)
	assert.Equal(t, match.StatusErrored, m.Status)
	assert.Empty(t, moves)
	assert.Equal(t, 1, h.eng.closedCount())
}

func TestRun_StartFailureClosesEngine(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.eng.startErr = &engine.StartError{Path: "/nope", Err: errors.New("no such file")}

	err := h.orch.Run(context.Background(), h.request())
	var se *engine.StartError
	require.ErrorAs(t, err, &se)

	m, _ := h.reload(t)
	assert.Equal(t, match.StatusErrored, m.Status)
	assert.Equal(t, 1, h.eng.closedCount())
}

func TestRun_ConfigurationErrorBeforeStart(t *testing.T) {
	h := newHarness(t, nil, nil)
	created := false
	h.orch.engines = func() EngineProcess { created = true; return h.eng }
	h.orch.generators = func(c llm.Config) (MoveGenerator, error) { return nil, c.Validate() }

	req := h.request()
	req.Credentials = llm.Config{Provider: llm.ProviderOpenAI}
	err := h.orch.Run(context.Background(), req)
	var ce *llm.ConfigurationError
	require.ErrorAs(t, err, &ce)

	m, _ := h.reload(t)
	assert.Equal(t, match.StatusErrored, m.Status)
	assert.Nil(t, m.StartedAt)
	assert.False(t, created)
}

func TestRun_CancellationStillMarksErrored(t *testing.T) {
	h := newHarness(t, []string{"e4"}, []string{"e5"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.gen.hook = func(call int) {
		if call == 1 {
			cancel()
		}
	}
	h.gen.errs = map[int]error{1: context.Canceled}

	err := h.orch.Run(ctx, h.request())
	require.ErrorIs(t, err, context.Canceled)

	m, moves := h.reload(t)
	assert.Equal(t, match.StatusErrored, m.Status)
	assert.Len(t, moves, 2)
}

func TestRun_ExplicitStrengthWins(t *testing.T) {
	h := newHarness(t, []string{"f3", "g4"}, []string{"e5", "Qh4#"})
	req := h.request()
	req.EngineStrength = 8

	require.NoError(t, h.orch.Run(context.Background(), req))
	assert.Equal(t, 8, h.eng.level)
}

func TestRun_UnknownMatch(t *testing.T) {
	h := newHarness(t, nil, nil)
	req := h.request()
	req.MatchID = uuid.New()

	err := h.orch.Run(context.Background(), req)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.Empty(t, h.pub.types())
}

func TestRun_TerminalMatchIsNotRerun(t *testing.T) {
	h := newHarness(t, []string{"f3", "g4"}, []string{"e5", "Qh4#"})
	require.NoError(t, h.orch.Run(context.Background(), h.request()))

	err := h.orch.Run(context.Background(), h.request())
	assert.ErrorIs(t, err, match.ErrInvalidTransition)

	m, moves := h.reload(t)
	assert.Equal(t, match.StatusCompleted, m.Status, "completed match must stay completed")
	assert.Len(t, moves, 4)
}

func TestRun_MatchOwnedByAnotherRunIsLeftAlone(t *testing.T) {
	h := newHarness(t, []string{"f3", "g4"}, []string{"e5", "Qh4#"})
	ctx := context.Background()
	running := h.match.Clone()
	require.NoError(t, running.Start(time.Now()))
	require.NoError(t, h.store.UpdateMatch(ctx, running))

	err := h.orch.Run(ctx, h.request())
	assert.ErrorIs(t, err, match.ErrInvalidTransition)

	m, moves := h.reload(t)
	assert.Equal(t, match.StatusInProgress, m.Status)
	assert.Nil(t, m.ErrorMessage)
	assert.Empty(t, moves)
	assert.Empty(t, h.pub.types())
	assert.Zero(t, h.eng.closedCount(), "engine must not be started")
}

// completionFailure rejects the first write of a completed match.
type completionFailure struct {
	*memory.Store
	failed bool
}

func (s *completionFailure) UpdateMatch(ctx context.Context, m *match.Match) error {
	if m.Status == match.StatusCompleted && !s.failed {
		s.failed = true
		return errors.New("db connection reset")
	}
	return s.Store.UpdateMatch(ctx, m)
}

func TestRun_CompletionWriteFailureMarksErrored(t *testing.T) {
	h := newHarness(t, []string{"f3", "g4"}, []string{"e5", "Qh4#"})
	store := &completionFailure{Store: h.store}
	h.orch = NewOrchestrator(store, h.store, rules.NewChess(),
		func() EngineProcess { return h.eng },
		func(llm.Config) (MoveGenerator, error) { return h.gen, nil },
		WithBroadcaster(h.pub),
		WithArchiver(h.arch),
	)

	err := h.orch.Run(context.Background(), h.request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist completion")

	m, moves := h.reload(t)
	assert.Equal(t, match.StatusErrored, m.Status)
	assert.Nil(t, m.Winner)
	assert.Len(t, moves, 4)
	assert.Equal(t, []string{"status", "move", "move", "move", "move", "error"}, h.pub.types())
	assert.Empty(t, h.arch.pgn, "unpersisted result must not be archived")

	last := h.pub.got[len(h.pub.got)-1]
	assert.Equal(t, ErrorNotice, last.Message)
	require.NotNil(t, last.Match)
	assert.Nil(t, last.Match.ErrorMessage)
	require.NotNil(t, m.ErrorMessage)
	assert.Contains(t, *m.ErrorMessage, "db connection reset")
}

func TestOutcome(t *testing.T) {
	r := rules.NewChess()

	stalemate, err := r.Load("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	require.NoError(t, err)
	w, reason := outcome(r, stalemate, match.PlayerAgent)
	assert.Equal(t, match.WinnerDraw, w)
	assert.Equal(t, "stalemate", reason)

	mate, err := r.Load("rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3")
	require.NoError(t, err)
	w, reason = outcome(r, mate, match.PlayerEngine)
	assert.Equal(t, match.WinnerEngine, w)
	assert.Equal(t, "checkmate", reason)
}
