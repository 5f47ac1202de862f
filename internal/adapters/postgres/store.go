package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/ports"
)

const matchColumns = `
id, agent_id, engine_strength, retry_of, provider, model, status, winner,
termination, move_count, total_tokens, cost_estimate, avg_agent_response_ms,
final_fen, error_message, started_at, completed_at, created_at, updated_at`

const queryGetMatch = `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

const queryListMatches = `SELECT ` + matchColumns + `
FROM matches
ORDER BY created_at DESC
LIMIT $1`

const queryListStale = `SELECT ` + matchColumns + `
FROM matches
WHERE status = 'in_progress' AND updated_at < $1
ORDER BY updated_at ASC`

const queryInsertMatch = `
INSERT INTO matches (` + matchColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

const queryUpdateMatch = `
UPDATE matches SET
    status                = $2,
    winner                = $3,
    termination           = $4,
    move_count            = $5,
    total_tokens          = $6,
    cost_estimate         = $7,
    avg_agent_response_ms = $8,
    final_fen             = $9,
    error_message         = $10,
    started_at            = $11,
    completed_at          = $12,
    updated_at            = $13
WHERE id = $1`

const queryInsertMove = `
INSERT INTO moves
    (id, match_id, move_number, full_move, player, notation, uci, fen_before, fen_after,
     prompt, response, tokens, retry_count, response_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

const queryListMoves = `
SELECT id, match_id, move_number, full_move, player, notation, uci, fen_before, fen_after,
       prompt, response, tokens, retry_count, response_ms, created_at
FROM moves
WHERE match_id = $1
ORDER BY move_number ASC`

const queryMatchExists = `SELECT EXISTS(SELECT 1 FROM matches WHERE id = $1)`

const queryInsertAgent = `
INSERT INTO agents (id, name, persona, created_at)
VALUES ($1, $2, $3, $4)`

const queryGetAgent = `SELECT id, name, persona, created_at FROM agents WHERE id = $1`

// Postgres error codes.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store is a PostgreSQL-backed MatchStore and AgentStore.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ ports.MatchStore = (*Store)(nil)
	_ ports.AgentStore = (*Store)(nil)
)

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateMatch(ctx context.Context, m *match.Match) error {
	_, err := s.pool.Exec(ctx, queryInsertMatch,
		m.ID,
		m.AgentID,
		m.EngineStrength,
		m.RetryOf,
		m.Provider,
		m.Model,
		string(m.Status),
		winnerString(m.Winner),
		m.Termination,
		m.MoveCount,
		m.TotalTokens,
		m.CostEstimate,
		m.AvgAgentResponseMs,
		m.FinalFEN,
		m.ErrorMessage,
		m.StartedAt,
		m.CompletedAt,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if isCode(err, codeForeignKeyViolation) {
		return ports.ErrNotFound
	}
	return err
}

func (s *Store) GetMatch(ctx context.Context, id uuid.UUID) (*match.Match, error) {
	m, err := scanMatch(s.pool.QueryRow(ctx, queryGetMatch, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	return m, err
}

// UpdateMatch writes the mutable columns; identity and configuration are
// fixed at creation.
func (s *Store) UpdateMatch(ctx context.Context, m *match.Match) error {
	tag, err := s.pool.Exec(ctx, queryUpdateMatch,
		m.ID,
		string(m.Status),
		winnerString(m.Winner),
		m.Termination,
		m.MoveCount,
		m.TotalTokens,
		m.CostEstimate,
		m.AvgAgentResponseMs,
		m.FinalFEN,
		m.ErrorMessage,
		m.StartedAt,
		m.CompletedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (s *Store) CreateMove(ctx context.Context, mv match.Move) error {
	_, err := s.pool.Exec(ctx, queryInsertMove,
		mv.ID, mv.MatchID, mv.Ply, mv.FullMove, string(mv.Player), mv.Notation, mv.UCI,
		mv.FENBefore, mv.FENAfter, mv.Prompt, mv.Response, mv.Tokens,
		mv.RetryCount, mv.ResponseMs, mv.CreatedAt,
	)
	switch {
	case isCode(err, codeUniqueViolation):
		return ports.ErrDuplicatePly
	case isCode(err, codeForeignKeyViolation):
		return ports.ErrNotFound
	}
	return err
}

func (s *Store) ListMoves(ctx context.Context, matchID uuid.UUID) ([]match.Move, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var exists bool
	if err := tx.QueryRow(ctx, queryMatchExists, matchID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ports.ErrNotFound
	}

	rows, err := tx.Query(ctx, queryListMoves, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []match.Move{}
	for rows.Next() {
		var mv match.Move
		var player string
		if err := rows.Scan(
			&mv.ID, &mv.MatchID, &mv.Ply, &mv.FullMove, &player, &mv.Notation, &mv.UCI,
			&mv.FENBefore, &mv.FENAfter, &mv.Prompt, &mv.Response, &mv.Tokens,
			&mv.RetryCount, &mv.ResponseMs, &mv.CreatedAt,
		); err != nil {
			return nil, err
		}
		mv.Player = match.Player(player)
		out = append(out, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func (s *Store) ListMatches(ctx context.Context, limit int) ([]*match.Match, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryMatches(ctx, queryListMatches, limit)
}

func (s *Store) ListStale(ctx context.Context, before time.Time) ([]*match.Match, error) {
	return s.queryMatches(ctx, queryListStale, before)
}

func (s *Store) queryMatches(ctx context.Context, sql string, args ...any) ([]*match.Match, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*match.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CreateAgent(ctx context.Context, a match.Agent) error {
	_, err := s.pool.Exec(ctx, queryInsertAgent, a.ID, a.Name, a.Persona, a.CreatedAt)
	return err
}

func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (match.Agent, error) {
	var a match.Agent
	err := s.pool.QueryRow(ctx, queryGetAgent, id).Scan(&a.ID, &a.Name, &a.Persona, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return match.Agent{}, ports.ErrNotFound
	}
	return a, err
}

func scanMatch(row pgx.Row) (*match.Match, error) {
	var (
		m      match.Match
		status string
		winner *string
	)
	if err := row.Scan(
		&m.ID, &m.AgentID, &m.EngineStrength, &m.RetryOf, &m.Provider, &m.Model,
		&status, &winner, &m.Termination, &m.MoveCount, &m.TotalTokens,
		&m.CostEstimate, &m.AvgAgentResponseMs, &m.FinalFEN, &m.ErrorMessage,
		&m.StartedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.Status = match.Status(status)
	if winner != nil {
		w := match.Winner(*winner)
		m.Winner = &w
	}
	return &m, nil
}

func winnerString(w *match.Winner) *string {
	if w == nil {
		return nil
	}
	s := string(*w)
	return &s
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
