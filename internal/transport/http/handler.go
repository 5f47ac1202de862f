package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/ports"
	"github.com/randomtoy/chess-arena/internal/usecase"
)

// matchJSON is the wire representation of domain/match.Match.
type matchJSON struct {
	MatchID            string     `json:"match_id"`
	AgentID            string     `json:"agent_id"`
	EngineStrength     int        `json:"engine_strength"`
	RetryOf            *string    `json:"retry_of"`
	Provider           string     `json:"provider"`
	Model              string     `json:"model"`
	Status             string     `json:"status"`
	Winner             *string    `json:"winner"`
	Termination        *string    `json:"termination"`
	MoveCount          int        `json:"move_count"`
	TotalTokens        int        `json:"total_tokens"`
	CostEstimate       float64    `json:"cost_estimate"`
	AvgAgentResponseMs *int64     `json:"avg_agent_response_ms"`
	FinalFEN           *string    `json:"final_fen"`
	ErrorMessage       *string    `json:"error_message"`
	StartedAt          *time.Time `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// moveJSON is the wire representation of one ply.
type moveJSON struct {
	MoveID     string    `json:"move_id"`
	Ply        int       `json:"ply"`
	MoveNumber int       `json:"move_number"`
	Player     string    `json:"player"`
	Notation   string    `json:"notation"`
	UCI        string    `json:"uci"`
	FENBefore  string    `json:"fen_before"`
	FENAfter   string    `json:"fen_after"`
	Prompt     *string   `json:"prompt,omitempty"`
	Response   *string   `json:"response,omitempty"`
	Tokens     *int      `json:"tokens,omitempty"`
	RetryCount int       `json:"retry_count"`
	ResponseMs int64     `json:"response_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

type agentJSON struct {
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	Persona   string    `json:"persona"`
	CreatedAt time.Time `json:"created_at"`
}

func toMatchJSON(m *match.Match) *matchJSON {
	var retryOf, winner *string
	if m.RetryOf != nil {
		s := m.RetryOf.String()
		retryOf = &s
	}
	if m.Winner != nil {
		s := string(*m.Winner)
		winner = &s
	}
	return &matchJSON{
		MatchID:            m.ID.String(),
		AgentID:            m.AgentID.String(),
		EngineStrength:     m.EngineStrength,
		RetryOf:            retryOf,
		Provider:           m.Provider,
		Model:              m.Model,
		Status:             string(m.Status),
		Winner:             winner,
		Termination:        m.Termination,
		MoveCount:          m.MoveCount,
		TotalTokens:        m.TotalTokens,
		CostEstimate:       m.CostEstimate,
		AvgAgentResponseMs: m.AvgAgentResponseMs,
		FinalFEN:           m.FinalFEN,
		ErrorMessage:       m.ErrorMessage,
		StartedAt:          m.StartedAt,
		CompletedAt:        m.CompletedAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func toMoveJSON(mv match.Move) moveJSON {
	return moveJSON{
		MoveID:     mv.ID.String(),
		Ply:        mv.Ply,
		MoveNumber: mv.FullMove,
		Player:     string(mv.Player),
		Notation:   mv.Notation,
		UCI:        mv.UCI,
		FENBefore:  mv.FENBefore,
		FENAfter:   mv.FENAfter,
		Prompt:     mv.Prompt,
		Response:   mv.Response,
		Tokens:     mv.Tokens,
		RetryCount: mv.RetryCount,
		ResponseMs: mv.ResponseMs,
		CreatedAt:  mv.CreatedAt,
	}
}

func toAgentJSON(a match.Agent) agentJSON {
	return agentJSON{AgentID: a.ID.String(), Name: a.Name, Persona: a.Persona, CreatedAt: a.CreatedAt}
}

// Subscriber streams live updates for one match.
type Subscriber interface {
	Subscribe(matchID uuid.UUID) (<-chan ports.Update, func())
}

// Handlers holds all usecase dependencies.
type Handlers struct {
	matches *usecase.Matches
	agents  *usecase.Agents
	updates Subscriber

	heartbeat time.Duration
}

func NewHandlers(matches *usecase.Matches, agents *usecase.Agents, updates Subscriber) *Handlers {
	return &Handlers{matches: matches, agents: agents, updates: updates, heartbeat: 15 * time.Second}
}

func clientKey(c echo.Context) (ip, token string) {
	return c.RealIP(), c.Request().Header.Get("X-Client-Token")
}

func (h *Handlers) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) handleCreateAgent(c echo.Context) error {
	var body struct {
		Name    string `json:"name"`
		Persona string `json:"persona"`
	}
	if err := c.Bind(&body); err != nil {
		return writeErr(c, err)
	}
	ip, token := clientKey(c)
	a, err := h.agents.CreateAgent(c.Request().Context(), ip, token, body.Name, body.Persona)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusCreated, toAgentJSON(a))
}

func (h *Handlers) handleGetAgent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("agent_id"))
	if err != nil {
		return writeErr(c, ports.ErrNotFound)
	}
	a, err := h.agents.GetAgent(c.Request().Context(), id)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, toAgentJSON(a))
}

func (h *Handlers) handleCreateMatch(c echo.Context) error {
	var body struct {
		AgentID        string `json:"agent_id"`
		EngineStrength int    `json:"engine_strength"`
		Provider       string `json:"provider"`
		Model          string `json:"model"`
	}
	if err := c.Bind(&body); err != nil {
		return writeErr(c, err)
	}
	agentID, err := uuid.Parse(body.AgentID)
	if err != nil {
		return problem(c, http.StatusBadRequest, "bad-request", "invalid_agent_id", "agent_id must be a valid UUID.")
	}

	ip, token := clientKey(c)
	m, err := h.matches.CreateMatch(c.Request().Context(), ip, token, usecase.CreateMatchRequest{
		AgentID:        agentID,
		EngineStrength: body.EngineStrength,
		Provider:       body.Provider,
		Model:          body.Model,
	})
	if err != nil {
		return writeErr(c, err)
	}
	c.Response().Header().Set("Location", "/api/v1/matches/"+m.ID.String())
	return c.JSON(http.StatusAccepted, toMatchJSON(m))
}

func (h *Handlers) handleListMatches(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	ms, err := h.matches.ListMatches(c.Request().Context(), limit)
	if err != nil {
		return writeErr(c, err)
	}
	out := make([]*matchJSON, len(ms))
	for i, m := range ms {
		out[i] = toMatchJSON(m)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, map[string]any{"matches": out})
}

func (h *Handlers) handleGetMatch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("match_id"))
	if err != nil {
		return writeErr(c, ports.ErrNotFound)
	}
	m, err := h.matches.GetMatch(c.Request().Context(), id)
	if err != nil {
		return writeErr(c, err)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, toMatchJSON(m))
}

func (h *Handlers) handleListMoves(c echo.Context) error {
	id, err := uuid.Parse(c.Param("match_id"))
	if err != nil {
		return writeErr(c, ports.ErrNotFound)
	}
	moves, err := h.matches.ListMoves(c.Request().Context(), id)
	if err != nil {
		return writeErr(c, err)
	}
	out := make([]moveJSON, len(moves))
	for i, mv := range moves {
		out[i] = toMoveJSON(mv)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, map[string]any{"moves": out})
}
