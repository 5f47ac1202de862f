package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randomtoy/chess-arena/internal/broadcast"
	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/ports"
)

// printer writes moves to out as the hub delivers them.
type printer struct {
	out io.Writer
	hub *broadcast.Hub

	mu      sync.Mutex
	cancels []func()
	wg      sync.WaitGroup
}

func newPrinter(out io.Writer, hub *broadcast.Hub) *printer {
	return &printer{out: out, hub: hub}
}

func (p *printer) follow(id uuid.UUID) {
	updates, cancel := p.hub.Subscribe(id)
	p.mu.Lock()
	p.cancels = append(p.cancels, cancel)
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for u := range updates {
			p.print(u)
		}
	}()
}

// stop ends every subscription and waits until buffered updates are printed.
func (p *printer) stop() {
	p.mu.Lock()
	cancels := p.cancels
	p.cancels = nil
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	p.wg.Wait()
}

func (p *printer) print(u ports.Update) {
	switch u.Type {
	case ports.UpdateMove:
		mv := u.Move
		if mv == nil {
			return
		}
		extra := ""
		if mv.RetryCount > 0 {
			extra = fmt.Sprintf(", %d retries", mv.RetryCount)
		}
		if mv.Player == match.PlayerAgent {
			fmt.Fprintf(p.out, "%3d. %-8s agent  %s%s\n", mv.FullMove, mv.Notation, ms(mv.ResponseMs), extra)
		} else {
			fmt.Fprintf(p.out, "%3d. ... %-8s engine %s\n", mv.FullMove, mv.Notation, ms(mv.ResponseMs))
		}
	case ports.UpdateError:
		if u.Match != nil && u.Match.ErrorMessage != nil {
			fmt.Fprintf(p.out, "attempt failed: %s\n", *u.Match.ErrorMessage)
		}
	}
}

func ms(v int64) string {
	return (time.Duration(v) * time.Millisecond).String()
}

type summary struct {
	MatchID            string   `json:"match_id"`
	RetryOf            *string  `json:"retry_of,omitempty"`
	Status             string   `json:"status"`
	Winner             *string  `json:"winner"`
	Termination        *string  `json:"termination"`
	Moves              int      `json:"move_count"`
	Tokens             int      `json:"total_tokens"`
	CostEstimate       float64  `json:"cost_estimate"`
	AvgAgentResponseMs *int64   `json:"avg_agent_response_ms"`
	FinalFEN           *string  `json:"final_fen"`
	Error              *string  `json:"error_message,omitempty"`
	DurationSeconds    *float64 `json:"duration_seconds,omitempty"`
}

func summarize(m *match.Match) summary {
	s := summary{
		MatchID:            m.ID.String(),
		Status:             string(m.Status),
		Termination:        m.Termination,
		Moves:              m.MoveCount,
		Tokens:             m.TotalTokens,
		CostEstimate:       m.CostEstimate,
		AvgAgentResponseMs: m.AvgAgentResponseMs,
		FinalFEN:           m.FinalFEN,
		Error:              m.ErrorMessage,
	}
	if m.RetryOf != nil {
		id := m.RetryOf.String()
		s.RetryOf = &id
	}
	if m.Winner != nil {
		w := string(*m.Winner)
		s.Winner = &w
	}
	if m.StartedAt != nil && m.CompletedAt != nil {
		d := m.CompletedAt.Sub(*m.StartedAt).Seconds()
		s.DurationSeconds = &d
	}
	return s
}

func printSummary(out io.Writer, m *match.Match) {
	fmt.Fprintln(out)
	switch m.Status {
	case match.StatusCompleted:
		fmt.Fprintf(out, "Result:   %s (%s)\n", *m.Winner, *m.Termination)
	default:
		fmt.Fprintf(out, "Result:   %s\n", m.Status)
		if m.ErrorMessage != nil {
			fmt.Fprintf(out, "Error:    %s\n", *m.ErrorMessage)
		}
	}
	fmt.Fprintf(out, "Moves:    %d\n", m.MoveCount)
	fmt.Fprintf(out, "Tokens:   %d (~$%.4f)\n", m.TotalTokens, m.CostEstimate)
	if m.AvgAgentResponseMs != nil {
		fmt.Fprintf(out, "Agent:    %s per move on average\n", ms(*m.AvgAgentResponseMs))
	}
	if m.FinalFEN != nil {
		fmt.Fprintf(out, "Final:    %s\n", *m.FinalFEN)
	}
}
