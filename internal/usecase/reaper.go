package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/randomtoy/chess-arena/internal/ports"
	"github.com/randomtoy/chess-arena/internal/stats"
)

const abandonedMessage = "match abandoned: no progress"

// Reaper marks matches errored when they have sat in_progress without any
// update for longer than staleAfter, e.g. after the process running them died.
type Reaper struct {
	matches     ports.MatchStore
	active      func(uuid.UUID) bool
	broadcaster ports.Broadcaster
	stats       stats.Collector
	staleAfter  time.Duration
	log         *zap.Logger
	now         func() time.Time
}

// NewReaper builds a reaper. active reports matches this process is still
// running; they are never reaped. active, b and c may be nil.
func NewReaper(matches ports.MatchStore, active func(uuid.UUID) bool, staleAfter time.Duration, b ports.Broadcaster, c stats.Collector, log *zap.Logger) *Reaper {
	if active == nil {
		active = func(uuid.UUID) bool { return false }
	}
	if b == nil {
		b = nopBroadcaster{}
	}
	if c == nil {
		c = stats.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reaper{
		matches:     matches,
		active:      active,
		broadcaster: b,
		stats:       c,
		staleAfter:  staleAfter,
		log:         log.Named("reaper"),
		now:         time.Now,
	}
}

// Sweep reaps every stale match once and returns how many were marked.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	stale, err := r.matches.ListStale(ctx, now.Add(-r.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("list stale matches: %w", err)
	}

	reaped := 0
	for _, m := range stale {
		if r.active(m.ID) {
			continue
		}
		if err := m.Fail(abandonedMessage, now); err != nil {
			continue
		}
		if err := r.matches.UpdateMatch(ctx, m); err != nil {
			r.log.Error("mark stale match errored", zap.String("match_id", m.ID.String()), zap.Error(err))
			continue
		}
		reaped++
		r.stats.IncCounter(stats.MetricMatchesErrored, 1)
		r.broadcaster.Publish(ctx, m.ID, ports.Update{Type: ports.UpdateError, Match: m.Clone(), Message: ErrorNotice})
		r.log.Warn("reaped stale match", zap.String("match_id", m.ID.String()), zap.Time("last_update", m.UpdatedAt))
	}
	return reaped, nil
}

// Schedule runs Sweep every interval until the returned scheduler is shut
// down. Overlapping sweeps are skipped.
func (r *Reaper) Schedule(interval time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			if _, err := r.Sweep(ctx); err != nil {
				r.log.Error("sweep", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, err
	}
	s.Start()
	return s, nil
}
