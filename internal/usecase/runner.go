package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/engine"
	"github.com/randomtoy/chess-arena/internal/llm"
	"github.com/randomtoy/chess-arena/internal/ports"
)

var ErrRunnerClosed = errors.New("runner is shut down")

// MatchRunner plays a single match attempt.
type MatchRunner interface {
	Run(ctx context.Context, req RunRequest) error
}

// RetryRule bounds how often one class of failure is retried.
type RetryRule struct {
	MaxRetries  uint64
	Base        time.Duration
	Exponential bool
}

func (r RetryRule) backoff() retry.Backoff {
	var b retry.Backoff
	if r.Exponential {
		b = retry.NewExponential(r.Base)
	} else {
		b = retry.NewConstant(r.Base)
	}
	return retry.WithMaxRetries(r.MaxRetries, b)
}

// RetryPolicy maps failure classes to retry rules. Failures outside these
// classes (illegal agent moves, bad credentials, store errors) are final.
type RetryPolicy struct {
	EngineTimeout RetryRule
	EngineCrash   RetryRule
	LLM           RetryRule
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		EngineTimeout: RetryRule{MaxRetries: 3, Base: 2 * time.Second, Exponential: true},
		EngineCrash:   RetryRule{MaxRetries: 1, Base: 5 * time.Second},
		LLM:           RetryRule{MaxRetries: 3, Base: 5 * time.Second, Exponential: true},
	}
}

type failureClass int

const (
	classFinal failureClass = iota
	classEngineTimeout
	classEngineCrash
	classLLM
)

func (c failureClass) String() string {
	switch c {
	case classEngineTimeout:
		return "engine_timeout"
	case classEngineCrash:
		return "engine_crash"
	case classLLM:
		return "llm_api"
	}
	return "final"
}

// classify decides whether a failed run may be retried. A start failure is a
// crash even when the handshake itself timed out.
func classify(err error) failureClass {
	var startErr *engine.StartError
	if errors.As(err, &startErr) {
		return classEngineCrash
	}
	var crashErr *engine.CrashedError
	if errors.As(err, &crashErr) {
		return classEngineCrash
	}
	var timeoutErr *engine.TimeoutError
	if errors.As(err, &timeoutErr) {
		return classEngineTimeout
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return classFinal
		}
		return classLLM
	}
	return classFinal
}

// Runner executes matches in the background, at most maxConcurrent at a
// time. A retried match is replayed as a new match linked to the failed one.
type Runner struct {
	run     MatchRunner
	matches ports.MatchStore
	sem     *semaphore.Weighted
	policy  RetryPolicy
	log     *zap.Logger
	now     func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	active map[uuid.UUID]struct{}
}

type RunnerOption func(*Runner)

func WithRetryPolicy(p RetryPolicy) RunnerOption {
	return func(r *Runner) { r.policy = p }
}

func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func NewRunner(run MatchRunner, matches ports.MatchStore, maxConcurrent int, opts ...RunnerOption) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	base, cancel := context.WithCancel(context.Background())
	r := &Runner{
		run:     run,
		matches: matches,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		policy:  DefaultRetryPolicy(),
		log:     zap.NewNop(),
		now:     time.Now,
		base:    base,
		cancel:  cancel,
		active:  make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("runner")
	return r
}

// Enqueue starts the match in the background and returns immediately.
func (r *Runner) Enqueue(req RunRequest) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		final, err := r.Execute(r.base, req)
		if err != nil {
			r.log.Warn("match run finished with error",
				zap.String("match_id", final.String()), zap.Error(err))
		}
	}()
	return nil
}

// Execute runs the match synchronously, retrying transient failures per the
// policy. It returns the id of the last attempt.
func (r *Runner) Execute(ctx context.Context, req RunRequest) (uuid.UUID, error) {
	backoffs := map[failureClass]retry.Backoff{
		classEngineTimeout: r.policy.EngineTimeout.backoff(),
		classEngineCrash:   r.policy.EngineCrash.backoff(),
		classLLM:           r.policy.LLM.backoff(),
	}
	last := classFinal
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		b, ok := backoffs[last]
		if !ok {
			return 0, true
		}
		return b.Next()
	})

	cur := req
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			id, err := r.respawn(ctx, cur.MatchID)
			if err != nil {
				return err
			}
			r.log.Info("retrying match",
				zap.String("failed_match_id", cur.MatchID.String()),
				zap.String("match_id", id.String()),
				zap.Stringer("cause", last), zap.Int("attempt", attempt))
			cur.MatchID = id
		}

		err := r.runOnce(ctx, cur)
		if err == nil {
			return nil
		}
		last = classify(err)
		if last == classFinal {
			return err
		}
		return retry.RetryableError(err)
	})
	return cur.MatchID, err
}

// respawn creates the pending match for the next attempt.
func (r *Runner) respawn(ctx context.Context, prevID uuid.UUID) (uuid.UUID, error) {
	prev, err := r.matches.GetMatch(ctx, prevID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("load failed match %s: %w", prevID, err)
	}
	next := match.RetryOf(prev, uuid.New(), r.now())
	if err := r.matches.CreateMatch(ctx, next); err != nil {
		return uuid.Nil, fmt.Errorf("create retry of %s: %w", prevID, err)
	}
	return next.ID, nil
}

func (r *Runner) runOnce(ctx context.Context, req RunRequest) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	r.mu.Lock()
	r.active[req.MatchID] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, req.MatchID)
		r.mu.Unlock()
	}()

	return r.run.Run(ctx, req)
}

// Active reports whether a run for id is executing in this process.
func (r *Runner) Active(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// Shutdown stops accepting work and waits for running matches. When ctx
// expires first, the remaining runs are cancelled and marked errored by the
// orchestrator before Shutdown returns.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
