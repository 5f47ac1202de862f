package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/llm"
	"github.com/randomtoy/chess-arena/internal/ports"
	"github.com/randomtoy/chess-arena/internal/usecase"
)

const errBase = "https://errors.chess-arena.local"

// Problem is an RFC 7807 problem document.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func problem(c echo.Context, status int, kind, code, detail string) error {
	return c.JSON(status, Problem{
		Type:   errBase + "/" + kind,
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code,
	})
}

// writeErr maps a domain/usecase error to the correct HTTP response.
func writeErr(c echo.Context, err error) error {
	var cfgErr *llm.ConfigurationError
	var httpErr *echo.HTTPError
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return problem(c, http.StatusNotFound, "not-found", "", "Resource not found.")
	case errors.Is(err, usecase.ErrRateLimited):
		c.Response().Header().Set("Retry-After", "2")
		return problem(c, http.StatusTooManyRequests, "rate-limited", "", "Rate limit exceeded. Try again later.")
	case errors.Is(err, match.ErrInvalidStrength):
		return problem(c, http.StatusUnprocessableEntity, "invalid-request", "invalid_engine_strength",
			"engine_strength must be between 1 and 8.")
	case errors.Is(err, usecase.ErrInvalidAgent):
		return problem(c, http.StatusUnprocessableEntity, "invalid-request", "invalid_agent",
			"Agent name is required and at most 100 characters.")
	case errors.As(err, &cfgErr):
		return problem(c, http.StatusUnprocessableEntity, "llm-configuration", "llm_configuration", cfgErr.Error())
	case errors.Is(err, usecase.ErrRunnerClosed):
		return problem(c, http.StatusServiceUnavailable, "unavailable", "", "Server is shutting down.")
	case errors.As(err, &httpErr) && httpErr.Code == http.StatusBadRequest:
		return problem(c, http.StatusBadRequest, "bad-request", "", "Malformed request body.")
	default:
		c.Logger().Error(err)
		return problem(c, http.StatusInternalServerError, "internal", "", "Unexpected error.")
	}
}
