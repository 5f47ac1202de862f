package broadcast

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/randomtoy/chess-arena/internal/ports"
)

// Fanout publishes to every broadcaster in order. A panicking sink is
// logged and skipped.
type Fanout struct {
	sinks []ports.Broadcaster
	log   *zap.Logger
}

var _ ports.Broadcaster = (*Fanout)(nil)

func NewFanout(log *zap.Logger, sinks ...ports.Broadcaster) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{sinks: sinks, log: log.Named("fanout")}
}

func (f *Fanout) Publish(ctx context.Context, matchID uuid.UUID, u ports.Update) {
	for _, s := range f.sinks {
		f.publish(ctx, s, matchID, u)
	}
}

func (f *Fanout) publish(ctx context.Context, s ports.Broadcaster, matchID uuid.UUID, u ports.Update) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("broadcaster panicked", zap.String("match_id", matchID.String()), zap.Any("panic", r))
		}
	}()
	s.Publish(ctx, matchID, u)
}

// Logger records every update at debug level.
type Logger struct {
	log *zap.Logger
}

func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.Named("updates")}
}

func (l *Logger) Publish(_ context.Context, matchID uuid.UUID, u ports.Update) {
	fields := []zap.Field{zap.String("match_id", matchID.String()), zap.String("type", u.Type)}
	if u.Move != nil {
		fields = append(fields, zap.Int("ply", u.Move.Ply), zap.String("move", u.Move.Notation))
	}
	if u.Match != nil {
		fields = append(fields, zap.String("status", string(u.Match.Status)))
	}
	l.log.Debug("match update", fields...)
}
