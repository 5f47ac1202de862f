package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/randomtoy/chess-arena/internal/adapters/memory"
	pgstore "github.com/randomtoy/chess-arena/internal/adapters/postgres"
	"github.com/randomtoy/chess-arena/internal/adapters/s3archive"
	"github.com/randomtoy/chess-arena/internal/broadcast"
	"github.com/randomtoy/chess-arena/internal/config"
	"github.com/randomtoy/chess-arena/internal/engine"
	"github.com/randomtoy/chess-arena/internal/llm"
	"github.com/randomtoy/chess-arena/internal/movegen"
	"github.com/randomtoy/chess-arena/internal/ports"
	"github.com/randomtoy/chess-arena/internal/rules"
	"github.com/randomtoy/chess-arena/internal/stats"
	promstats "github.com/randomtoy/chess-arena/internal/stats/prometheus"
	transporthttp "github.com/randomtoy/chess-arena/internal/transport/http"
	"github.com/randomtoy/chess-arena/internal/usecase"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// storageModule provides the stores, the live-update plumbing and the
// archive. Without DATABASE_URL everything stays in memory.
var storageModule = fx.Module("storage",
	fx.Provide(
		newPool,
		newStores,
		newHub,
		newBroadcaster,
		newArchiver,
	),
)

func newPool(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	log.Info("connected to database")
	lc.Append(fx.StopHook(pool.Close))
	return pool, nil
}

type storesOut struct {
	fx.Out

	Matches ports.MatchStore
	Agents  ports.AgentStore
}

func newStores(pool *pgxpool.Pool) storesOut {
	if pool == nil {
		s := memory.New()
		return storesOut{Matches: s, Agents: s}
	}
	s := pgstore.New(pool)
	return storesOut{Matches: s, Agents: s}
}

func newHub(log *zap.Logger) *broadcast.Hub {
	return broadcast.NewHub(broadcast.DefaultBuffer, log)
}

// newBroadcaster publishes through Postgres when there is a database so every
// instance's SSE clients see every match; the listener feeds the local hub.
func newBroadcaster(lc fx.Lifecycle, pool *pgxpool.Pool, matches ports.MatchStore, hub *broadcast.Hub, log *zap.Logger) ports.Broadcaster {
	if pool == nil {
		return broadcast.NewFanout(log, hub, broadcast.NewLogger(log))
	}

	listener := pgstore.NewListener(pool, matches, hub, log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				listener.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
	return broadcast.NewFanout(log, pgstore.NewNotifier(pool, log), broadcast.NewLogger(log))
}

func newArchiver(cfg *config.Config, log *zap.Logger) (ports.Archiver, error) {
	if cfg.ArchiveBucket == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a, err := s3archive.New(ctx, cfg.ArchiveBucket, cfg.ArchiveEndpoint)
	if err != nil {
		return nil, fmt.Errorf("s3 archive: %w", err)
	}
	log.Info("archiving finished games", zap.String("bucket", cfg.ArchiveBucket))
	return a, nil
}

// arenaModule provides the match machinery and the HTTP handlers.
var arenaModule = fx.Module("arena",
	fx.Provide(
		newRegistry,
		newStats,
		newRules,
		newOrchestrator,
		newRunner,
		newRateLimiter,
		newMatches,
		usecase.NewAgents,
		newHandlers,
	),
)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newStats(reg *prometheus.Registry) stats.Collector {
	return promstats.New(reg)
}

func newRules() rules.Engine {
	return rules.NewChess()
}

type orchestratorIn struct {
	fx.In

	Config      *config.Config
	Logger      *zap.Logger
	Matches     ports.MatchStore
	Agents      ports.AgentStore
	Rules       rules.Engine
	Broadcaster ports.Broadcaster
	Archiver    ports.Archiver
	Stats       stats.Collector
}

func newOrchestrator(p orchestratorIn) *usecase.Orchestrator {
	if p.Config.EnginePath == "" {
		p.Logger.Warn("no stockfish binary found; matches will fail until STOCKFISH_PATH is set")
	}
	engineCfg := engine.Config{Path: p.Config.EnginePath, Logger: p.Logger}
	genLog := p.Logger

	opts := []usecase.OrchestratorOption{
		usecase.WithBroadcaster(p.Broadcaster),
		usecase.WithStats(p.Stats),
		usecase.WithLogger(p.Logger),
	}
	if p.Archiver != nil {
		opts = append(opts, usecase.WithArchiver(p.Archiver))
	}
	return usecase.NewOrchestrator(p.Matches, p.Agents, p.Rules,
		func() usecase.EngineProcess { return engine.New(engineCfg, p.Rules) },
		func(creds llm.Config) (usecase.MoveGenerator, error) {
			client, err := llm.NewOpenAI(creds)
			if err != nil {
				return nil, err
			}
			return movegen.New(client, p.Rules, movegen.WithLogger(genLog)), nil
		},
		opts...,
	)
}

func newRunner(lc fx.Lifecycle, cfg *config.Config, orch *usecase.Orchestrator, matches ports.MatchStore, log *zap.Logger) *usecase.Runner {
	r := usecase.NewRunner(orch, matches, cfg.MaxConcurrentMatches, usecase.WithRunnerLogger(log))
	lc.Append(fx.StopHook(r.Shutdown))
	return r
}

func newRateLimiter(cfg *config.Config) ports.RateLimiter {
	if cfg.RateLimit == 0 {
		return memory.AlwaysAllow{}
	}
	return memory.NewKeyedLimiter(cfg.RateLimit, cfg.RateBurst)
}

func newMatches(cfg *config.Config, matches ports.MatchStore, agents ports.AgentStore, rl ports.RateLimiter, runner *usecase.Runner) *usecase.Matches {
	return usecase.NewMatches(matches, agents, rl, runner, cfg.LLM)
}

func newHandlers(matches *usecase.Matches, agents *usecase.Agents, hub *broadcast.Hub) *transporthttp.Handlers {
	return transporthttp.NewHandlers(matches, agents, hub)
}

func registerReaper(lc fx.Lifecycle, cfg *config.Config, matches ports.MatchStore, runner *usecase.Runner, b ports.Broadcaster, c stats.Collector, log *zap.Logger) {
	reaper := usecase.NewReaper(matches, runner.Active, cfg.StaleAfter, b, c, log)
	var stop func() error
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s, err := reaper.Schedule(cfg.ReaperInterval)
			if err != nil {
				return err
			}
			stop = s.Shutdown
			return nil
		},
		OnStop: func(context.Context) error {
			if stop == nil {
				return nil
			}
			return stop()
		},
	})
}

func registerServer(lc fx.Lifecycle, cfg *config.Config, h *transporthttp.Handlers, reg *prometheus.Registry, log *zap.Logger) {
	e := transporthttp.New(h, transporthttp.Options{
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:  log,
	})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("starting", zap.String("addr", ":"+cfg.Port))
				if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: e.Shutdown,
	})
}
