package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/ports"
)

const notifyChannel = "match_updates"

const (
	publishTimeout = 2 * time.Second
	relistenDelay  = time.Second
)

// notification is the pg_notify payload. Snapshots are re-read from the
// store by the listener because payloads are capped at 8000 bytes.
type notification struct {
	MatchID uuid.UUID `json:"match_id"`
	Type    string    `json:"type"`
	Ply     int       `json:"ply,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Notifier publishes match updates through Postgres NOTIFY so every API
// instance can relay them to its own observers.
type Notifier struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ ports.Broadcaster = (*Notifier)(nil)

func NewNotifier(pool *pgxpool.Pool, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{pool: pool, log: log.Named("notifier")}
}

func (n *Notifier) Publish(ctx context.Context, matchID uuid.UUID, u ports.Update) {
	msg := notification{MatchID: matchID, Type: u.Type, Message: u.Message}
	if u.Move != nil {
		msg.Ply = u.Move.Ply
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		n.log.Warn("encode notification", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if _, err := n.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		n.log.Warn("pg_notify failed", zap.String("match_id", matchID.String()), zap.Error(err))
	}
}

// Listener relays NOTIFY payloads into a local broadcaster.
type Listener struct {
	pool  *pgxpool.Pool
	store ports.MatchStore
	sink  ports.Broadcaster
	log   *zap.Logger
}

func NewListener(pool *pgxpool.Pool, store ports.MatchStore, sink ports.Broadcaster, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{pool: pool, store: store, sink: sink, log: log.Named("listener")}
}

// Run listens until ctx is done, reconnecting after connection errors.
func (l *Listener) Run(ctx context.Context) {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		l.log.Warn("listener disconnected", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(relistenDelay):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.dispatch(ctx, n.Payload)
	}
}

func (l *Listener) dispatch(ctx context.Context, payload string) {
	var msg notification
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		l.log.Warn("bad notification payload", zap.Error(err))
		return
	}

	u := ports.Update{Type: msg.Type, Message: msg.Message}
	m, err := l.store.GetMatch(ctx, msg.MatchID)
	if err != nil {
		l.log.Warn("load match for notification", zap.String("match_id", msg.MatchID.String()), zap.Error(err))
		return
	}
	u.Match = m

	if msg.Ply > 0 {
		moves, err := l.store.ListMoves(ctx, msg.MatchID)
		if err != nil {
			l.log.Warn("load moves for notification", zap.String("match_id", msg.MatchID.String()), zap.Error(err))
		}
		u.Move = findPly(moves, msg.Ply)
	}
	l.sink.Publish(ctx, msg.MatchID, u)
}

func findPly(moves []match.Move, ply int) *match.Move {
	for i := range moves {
		if moves[i].Ply == ply {
			return &moves[i]
		}
	}
	return nil
}
