package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/ports"
)

var ErrInvalidAgent = errors.New("agent name is required")

const maxNameLen = 100

// Agents handles agent profile creation and retrieval.
type Agents struct {
	store ports.AgentStore
	rl    ports.RateLimiter
}

func NewAgents(store ports.AgentStore, rl ports.RateLimiter) *Agents {
	return &Agents{store: store, rl: rl}
}

func (a *Agents) CreateAgent(ctx context.Context, ip, token, name, persona string) (match.Agent, error) {
	if !a.rl.Allow(ip, token) {
		return match.Agent{}, ErrRateLimited
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return match.Agent{}, ErrInvalidAgent
	}
	agent := match.Agent{
		ID:        uuid.New(),
		Name:      name,
		Persona:   strings.TrimSpace(persona),
		CreatedAt: time.Now(),
	}
	if err := a.store.CreateAgent(ctx, agent); err != nil {
		return match.Agent{}, err
	}
	return agent, nil
}

func (a *Agents) GetAgent(ctx context.Context, id uuid.UUID) (match.Agent, error) {
	return a.store.GetAgent(ctx, id)
}
