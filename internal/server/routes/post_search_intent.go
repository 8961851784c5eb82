package routes

import (
	"net/http"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/internal/timing"
	"github.com/bluefishs/CK-Missive-sub000/pkg/intent"

	"github.com/labstack/echo/v4"
)

// ParseIntentHandler resolves a free-text query into structured search
// filters without running the full agent.
func ParseIntentHandler(c echo.Context) error {
	type parseIntentRequest struct {
		Query string `json:"query" validate:"required"`
	}

	type parseIntentResponse struct {
		Message string               `json:"message"`
		Intent  *intent.ParsedIntent `json:"intent,omitempty"`
		Source  string               `json:"source,omitempty"`
	}

	data := new(parseIntentRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, parseIntentResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, parseIntentResponse{
			Message: "Invalid request body",
		})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	start := time.Now()
	parsed, source := app.Intent.Parse(ctx, data.Query)
	timing.Record(ctx, app.DBConn, timing.PhaseIntentParse, 1, time.Since(start).Milliseconds())

	return c.JSON(http.StatusOK, parseIntentResponse{
		Message: "Intent parsed",
		Intent:  &parsed,
		Source:  source,
	})
}
