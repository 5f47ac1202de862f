package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/ports"
	"github.com/randomtoy/chess-arena/internal/usecase"
)

type eventJSON struct {
	Type    string     `json:"type"`
	Match   *matchJSON `json:"match,omitempty"`
	Move    *moveJSON  `json:"move,omitempty"`
	Message string     `json:"message,omitempty"`
}

func toEventJSON(u ports.Update) eventJSON {
	ev := eventJSON{Type: u.Type, Message: u.Message}
	if u.Match != nil {
		ev.Match = toMatchJSON(u.Match)
		// Observers get ErrorNotice, never the internal cause.
		ev.Match.ErrorMessage = nil
	}
	if u.Move != nil {
		mv := toMoveJSON(*u.Move)
		ev.Move = &mv
	}
	return ev
}

// terminalUpdate returns the closing event for a match that already ended.
func terminalUpdate(m *match.Match) (ports.Update, bool) {
	switch m.Status {
	case match.StatusCompleted:
		return ports.Update{Type: ports.UpdateCompleted, Match: m}, true
	case match.StatusErrored:
		return ports.Update{Type: ports.UpdateError, Match: m, Message: usecase.ErrorNotice}, true
	}
	return ports.Update{}, false
}

// handleEvents streams match updates as server-sent events. The stream opens
// with a status snapshot and closes after the completed or error event.
func (h *Handlers) handleEvents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("match_id"))
	if err != nil {
		return writeErr(c, ports.ErrNotFound)
	}
	ctx := c.Request().Context()

	// Subscribe before the snapshot so nothing published in between is lost.
	updates, cancel := h.updates.Subscribe(id)
	defer cancel()

	m, err := h.matches.GetMatch(ctx, id)
	if err != nil {
		return writeErr(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	if err := writeEvent(res, ports.Update{Type: ports.UpdateStatus, Match: m}); err != nil {
		return nil
	}
	if final, done := terminalUpdate(m); done {
		_ = writeEvent(res, final)
		return nil
	}

	ping := time.NewTicker(h.heartbeat)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEvent(res, u); err != nil {
				return nil
			}
			if u.Type == ports.UpdateCompleted || u.Type == ports.UpdateError {
				return nil
			}
		}
	}
}

func writeEvent(res *echo.Response, u ports.Update) error {
	data, err := json.Marshal(toEventJSON(u))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", u.Type, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}
