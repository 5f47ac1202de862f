package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/randomtoy/chess-arena/internal/adapters/memory"
	"github.com/randomtoy/chess-arena/internal/broadcast"
	"github.com/randomtoy/chess-arena/internal/config"
	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/engine"
	"github.com/randomtoy/chess-arena/internal/llm"
	"github.com/randomtoy/chess-arena/internal/movegen"
	"github.com/randomtoy/chess-arena/internal/ports"
	"github.com/randomtoy/chess-arena/internal/rules"
	statslogger "github.com/randomtoy/chess-arena/internal/stats/logger"
	"github.com/randomtoy/chess-arena/internal/usecase"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play one match and print the moves as they happen",
	Long: `Play a single match between an agent and the engine. The agent plays
white. Transient engine and model failures are retried as new matches, the
same way the API server does.`,
	Args: cobra.NoArgs,
	RunE: runPlay,
}

var (
	agentName   string
	persona     string
	strength    int
	provider    string
	model       string
	thinkTime   time.Duration
	pgnPath     string
	outputJSON  bool
	maxAttempts int
)

func init() {
	playCmd.Flags().StringVar(&agentName, "name", "Agent", "agent display name")
	playCmd.Flags().StringVar(&persona, "persona", "", "persona text embedded in every prompt")
	playCmd.Flags().IntVarP(&strength, "strength", "s", 4, "engine strength level 1-8")
	playCmd.Flags().StringVar(&provider, "provider", "", "override LLM_PROVIDER")
	playCmd.Flags().StringVar(&model, "model", "", "override LLM_MODEL")
	playCmd.Flags().DurationVar(&thinkTime, "think", engine.DefaultThinkTime, "engine think time per move")
	playCmd.Flags().IntVar(&maxAttempts, "attempts", movegen.DefaultMaxAttempts, "model attempts per agent move")
	playCmd.Flags().StringVar(&pgnPath, "pgn", "", "write the finished game to this PGN file")
	playCmd.Flags().BoolVar(&outputJSON, "json", false, "print the final match as JSON")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg := config.Load()
	path, err := config.ResolveEnginePath(firstNonEmpty(enginePath, cfg.EnginePath))
	if err != nil {
		return fmt.Errorf("%w; pass --engine or set STOCKFISH_PATH", err)
	}
	creds := cfg.LLM
	if provider != "" {
		creds.Provider = provider
	}
	if model != "" {
		creds.Model = model
	}
	if err := creds.Validate(); err != nil {
		return err
	}

	log := newLogger()
	defer log.Sync()

	store := memory.New()
	hub := broadcast.NewHub(broadcast.DefaultBuffer, log)
	r := rules.NewChess()

	agent := match.Agent{ID: uuid.New(), Name: agentName, Persona: persona, CreatedAt: time.Now()}
	if err := store.CreateAgent(ctx, agent); err != nil {
		return err
	}
	m, err := match.New(uuid.New(), agent.ID, strength, creds.Provider, creds.Model, time.Now())
	if err != nil {
		return err
	}
	if err := store.CreateMatch(ctx, m); err != nil {
		return err
	}

	archive := &pgnFile{path: pgnPath}
	orch := usecase.NewOrchestrator(store, store, r,
		func() usecase.EngineProcess {
			return engine.New(engine.Config{Path: path, ThinkTime: thinkTime, Logger: log}, r)
		},
		func(c llm.Config) (usecase.MoveGenerator, error) {
			client, err := llm.NewOpenAI(c)
			if err != nil {
				return nil, err
			}
			return movegen.New(client, r, movegen.WithLogger(log), movegen.WithMaxAttempts(maxAttempts)), nil
		},
		usecase.WithBroadcaster(hub),
		usecase.WithArchiver(archive),
		usecase.WithStats(statslogger.New(log)),
		usecase.WithLogger(log),
	)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s/%s) vs engine level %d\n", agent.Name, creds.Provider, creds.Model, strength)

	// Follow every attempt, including retries, through the hub.
	printer := newPrinter(out, hub)
	defer printer.stop()
	runner := usecase.NewRunner(retryFollower{orch, printer}, store, 1, usecase.WithRunnerLogger(log))

	finalID, runErr := runner.Execute(ctx, usecase.RunRequest{
		MatchID:        m.ID,
		AgentID:        agent.ID,
		EngineStrength: strength,
		Credentials:    creds,
	})
	printer.stop()

	final, err := store.GetMatch(context.WithoutCancel(ctx), finalID)
	if err != nil {
		return err
	}
	if outputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summarize(final)); err != nil {
			return err
		}
	} else {
		printSummary(out, final)
	}
	if runErr != nil {
		return runErr
	}
	if archive.written != "" {
		fmt.Fprintf(out, "PGN written to %s\n", archive.written)
	}
	return nil
}

// retryFollower subscribes the printer to each attempt before it runs.
type retryFollower struct {
	run     usecase.MatchRunner
	printer *printer
}

func (f retryFollower) Run(ctx context.Context, req usecase.RunRequest) error {
	f.printer.follow(req.MatchID)
	return f.run.Run(ctx, req)
}

// pgnFile writes the finished game when a path was given.
type pgnFile struct {
	path    string
	written string
}

var _ ports.Archiver = (*pgnFile)(nil)

func (p *pgnFile) Archive(_ context.Context, _ *match.Match, pgn string) error {
	if p.path == "" {
		return nil
	}
	if err := os.WriteFile(p.path, []byte(pgn+"\n"), 0o644); err != nil {
		return err
	}
	p.written = p.path
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
