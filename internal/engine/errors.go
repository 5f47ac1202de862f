package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNotStarted     = errors.New("engine not started")
	ErrClosed         = errors.New("engine closed")
	ErrInvalidLevel   = errors.New("engine strength level out of range")
	ErrNoBestMove     = errors.New("engine returned no best move")
)

// StartError means the subprocess could not be spawned or did not finish the
// handshake. Err may itself be a *TimeoutError or *CrashedError.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("engine start %s: %v", e.Path, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// TimeoutError means the engine did not answer within the allotted time.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("engine %s: no answer after %s", e.Op, e.After)
}

// CrashedError means the subprocess went away (pipe closed, process exited)
// or broke the protocol.
type CrashedError struct {
	Op  string
	Err error
}

func (e *CrashedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine %s: process exited", e.Op)
	}
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *CrashedError) Unwrap() error { return e.Err }
