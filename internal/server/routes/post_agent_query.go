package routes

import (
	"net/http"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/internal/server/util"
	"github.com/bluefishs/CK-Missive-sub000/internal/timing"
	"github.com/bluefishs/CK-Missive-sub000/pkg/agent"
	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// AgentQueryHandler streams one agentic answer as server-sent events. Every
// stream ends with exactly one done event, including error paths.
func AgentQueryHandler(c echo.Context) error {
	type agentQueryRequest struct {
		Query   string           `json:"query" validate:"required"`
		History []ai.ChatMessage `json:"history"`
	}

	type errorResponse struct {
		Message string `json:"message"`
	}

	data := new(agentQueryRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Message: "Invalid request body",
		})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	userKey := c.Request().Header.Get("X-User-Key")
	if userKey == "" {
		userKey = c.RealIP()
	}

	util.PrepareSSE(c)

	start := time.Now()
	err := app.Agent.StreamQuery(ctx, agent.QueryRequest{
		Query:   data.Query,
		UserKey: userKey,
		History: data.History,
	}, func(event agent.Event) error {
		return util.WriteSSEEvent(c, string(event.Type), event.Payload)
	})
	if err != nil {
		// Transport failure: the client is gone, nothing left to send.
		logger.Debug("[Routes] Agent stream aborted", "err", err)
		return nil
	}

	timing.Record(ctx, app.DBConn, timing.PhaseAgentQuery, 1, time.Since(start).Milliseconds())
	return nil
}
