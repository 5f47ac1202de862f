// Command migrate applies the embedded goose migrations to DATABASE_URL.
//
//	migrate [up|down|status|redo|version] (default up)
package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/randomtoy/chess-arena/internal/config"
	"github.com/randomtoy/chess-arena/internal/db"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	conn, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		log.Fatal("ping db", zap.Error(err))
	}

	goose.SetBaseFS(db.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal("goose set dialect", zap.Error(err))
	}
	if err := goose.RunContext(ctx, cmd, conn, "migrations"); err != nil {
		log.Fatal("goose "+cmd, zap.Error(err))
	}
	log.Info("migrations applied", zap.String("command", cmd))
}
