// Package engine drives a UCI chess engine subprocess for the length of one
// match. A Process is owned by exactly one match run and must be closed on
// every exit path.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/randomtoy/chess-arena/internal/rules"
)

const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultMoveTimeout      = 5 * time.Second
	DefaultThinkTime        = time.Second
	DefaultQuitTimeout      = 2 * time.Second
)

// Config describes how to launch the engine. Path is resolved once at
// startup by the caller.
type Config struct {
	Path string
	Args []string
	// Env is appended to the parent environment.
	Env []string

	HandshakeTimeout time.Duration
	MoveTimeout      time.Duration
	ThinkTime        time.Duration
	QuitTimeout      time.Duration

	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MoveTimeout <= 0 {
		c.MoveTimeout = DefaultMoveTimeout
	}
	if c.ThinkTime <= 0 {
		c.ThinkTime = DefaultThinkTime
	}
	if c.QuitTimeout <= 0 {
		c.QuitTimeout = DefaultQuitTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Result is one engine reply.
type Result struct {
	Notation string
	UCI      string
	Elapsed  time.Duration
}

type state int

const (
	stateUnstarted state = iota
	stateReady
	stateClosed
)

// Process owns one engine subprocess: unstarted -> ready -> closed.
type Process struct {
	cfg   Config
	rules rules.Engine
	log   *zap.Logger

	mu      sync.Mutex
	state   state
	level   int
	sess    *session
	broken  error
	cleanup runtime.Cleanup
}

// New prepares a Process; nothing is spawned until Start.
func New(cfg Config, r rules.Engine) *Process {
	cfg = cfg.withDefaults()
	return &Process{
		cfg:   cfg,
		rules: r,
		log:   cfg.Logger.Named("engine"),
	}
}

// Level reports the strength the engine was started with.
func (p *Process) Level() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Start spawns the engine, performs the UCI handshake and applies the
// strength level. It may be called once.
func (p *Process) Start(ctx context.Context, level int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateReady:
		return ErrAlreadyStarted
	case stateClosed:
		return ErrClosed
	}
	opts, err := options(level)
	if err != nil {
		return err
	}

	sess, err := spawn(p.cfg, p.log)
	if err != nil {
		return &StartError{Path: p.cfg.Path, Err: err}
	}
	// Last-resort kill if the owner drops the Process without closing it.
	p.cleanup = runtime.AddCleanup(p, func(s *session) { s.kill() }, sess)

	if err := p.handshake(ctx, sess, opts); err != nil {
		p.cleanup.Stop()
		sess.shutdown(p.cfg.QuitTimeout)
		return &StartError{Path: p.cfg.Path, Err: err}
	}

	p.sess = sess
	p.level = level
	p.state = stateReady
	p.log.Debug("engine ready", zap.String("path", p.cfg.Path), zap.Int("level", level))
	return nil
}

func (p *Process) handshake(ctx context.Context, s *session, opts []string) error {
	if err := s.send("uci"); err != nil {
		return err
	}
	_, err := s.await(ctx, "uci", p.cfg.HandshakeTimeout, func(l string) bool {
		if name, ok := strings.CutPrefix(l, "id name "); ok {
			p.log.Debug("engine identified", zap.String("name", name))
		}
		return l == "uciok"
	})
	if err != nil {
		return err
	}

	for _, o := range opts {
		if err := s.send(o); err != nil {
			return err
		}
	}
	if err := s.send("ucinewgame"); err != nil {
		return err
	}
	return p.ready(ctx, s)
}

func (p *Process) ready(ctx context.Context, s *session) error {
	if err := s.send("isready"); err != nil {
		return err
	}
	_, err := s.await(ctx, "isready", p.cfg.HandshakeTimeout, func(l string) bool { return l == "readyok" })
	return err
}

// BestMove asks the engine for a move in pos and translates it to SAN.
// A timed out, crashed or cancelled search leaves the engine unusable. The
// caller closes it.
func (p *Process) BestMove(ctx context.Context, pos rules.Position) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateUnstarted:
		return Result{}, ErrNotStarted
	case stateClosed:
		return Result{}, ErrClosed
	}
	if p.broken != nil {
		return Result{}, p.broken
	}

	res, err := p.search(ctx, pos)
	if err != nil {
		var te *TimeoutError
		var ce *CrashedError
		// An abandoned search may still answer; that bestmove must not be
		// read as the reply to the next position.
		if errors.As(err, &te) || errors.As(err, &ce) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			p.broken = err
		}
		return Result{}, err
	}
	return res, nil
}

func (p *Process) search(ctx context.Context, pos rules.Position) (Result, error) {
	s := p.sess
	if err := s.send("position fen " + pos.FEN); err != nil {
		return Result{}, err
	}
	started := time.Now()
	if err := s.send(fmt.Sprintf("go movetime %d", p.cfg.ThinkTime.Milliseconds())); err != nil {
		return Result{}, err
	}
	line, err := s.await(ctx, "bestmove", p.cfg.MoveTimeout, func(l string) bool {
		return strings.HasPrefix(l, "bestmove")
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			_ = s.send("stop")
		}
		return Result{}, err
	}
	elapsed := time.Since(started)

	fields := strings.Fields(line)
	if len(fields) < 2 || fields[1] == "(none)" || fields[1] == "0000" {
		return Result{}, &CrashedError{Op: "bestmove", Err: fmt.Errorf("%w: %q", ErrNoBestMove, line)}
	}
	uci := fields[1]

	san, err := p.rules.FromUCI(pos, uci)
	switch {
	case err == nil:
	case errors.Is(err, rules.ErrNoMatch):
		p.log.Warn("engine move has no legal counterpart, using raw notation",
			zap.String("uci", uci), zap.String("fen", pos.FEN))
		san = uci
	default:
		return Result{}, fmt.Errorf("translate engine move %q: %w", uci, err)
	}

	return Result{Notation: san, UCI: uci, Elapsed: elapsed}, nil
}

// Close stops the engine. It is idempotent, bounded by QuitTimeout plus a
// kill, and never returns an error.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateClosed {
		return nil
	}
	p.state = stateClosed
	s := p.sess
	p.sess = nil
	if s == nil {
		return nil
	}
	p.cleanup.Stop()
	s.shutdown(p.cfg.QuitTimeout)
	return nil
}

// session is the live subprocess. It must not point back at its Process so
// the cleanup can run.
type session struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	log   *zap.Logger

	exited  chan struct{}
	exitErr error
}

func spawn(cfg Config, log *zap.Logger) (*session, error) {
	if cfg.Path == "" {
		return nil, errors.New("no engine binary configured")
	}
	cmd := exec.Command(cfg.Path, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	s := &session{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan string, 256),
		log:    log,
		exited: make(chan struct{}),
	}
	go s.read(stdout)
	return s, nil
}

// read pumps stdout into lines until EOF, then reaps the process.
func (s *session) read(stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		s.lines <- strings.TrimSpace(sc.Text())
	}
	s.exitErr = s.cmd.Wait()
	if s.exitErr == nil {
		s.exitErr = sc.Err()
	}
	close(s.exited)
	close(s.lines)
}

func (s *session) send(line string) error {
	if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
		return &CrashedError{Op: "write", Err: err}
	}
	return nil
}

// await reads lines until match accepts one.
func (s *session) await(ctx context.Context, op string, timeout time.Duration, match func(string) bool) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return "", &CrashedError{Op: op, Err: s.exitErr}
			}
			if match(line) {
				return line, nil
			}
		case <-timer.C:
			return "", &TimeoutError{Op: op, After: timeout}
		case <-ctx.Done():
			return "", fmt.Errorf("engine %s: %w", op, ctx.Err())
		}
	}
}

func (s *session) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// shutdown asks the engine to quit and kills it if it does not.
func (s *session) shutdown(timeout time.Duration) {
	go func() {
		for range s.lines {
		}
	}()

	if _, err := io.WriteString(s.stdin, "quit\n"); err != nil {
		s.log.Debug("quit not delivered", zap.Error(err))
	}
	if err := s.stdin.Close(); err != nil {
		s.log.Debug("close engine stdin", zap.Error(err))
	}

	select {
	case <-s.exited:
		return
	case <-time.After(timeout):
	}

	s.log.Warn("engine ignored quit, killing", zap.Duration("after", timeout))
	s.kill()
	select {
	case <-s.exited:
	case <-time.After(timeout):
		s.log.Error("engine still running after kill", zap.Int("pid", s.cmd.Process.Pid))
	}
}
