package routes

import (
	"net/http"

	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/pkg/graph"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetEntityTimelineHandler lists the documents mentioning an entity in
// reverse chronological order.
func GetEntityTimelineHandler(c echo.Context) error {
	type timelineParams struct {
		ID    string `param:"id" validate:"required"`
		Limit int    `query:"limit"`
	}

	type timelineResponse struct {
		Message  string                `json:"message"`
		Timeline []graph.TimelineEntry `json:"timeline,omitempty"`
	}

	params := new(timelineParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, timelineResponse{
			Message: "Invalid request",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, timelineResponse{
			Message: "Invalid request",
		})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	entityID, err := app.Entities.FindByPublicID(ctx, params.ID)
	if err != nil {
		return c.JSON(http.StatusNotFound, timelineResponse{
			Message: "Entity not found",
		})
	}

	timeline, err := app.GraphQuery.GetEntityTimeline(ctx, entityID, params.Limit)
	if err != nil {
		logger.Error("[Routes] Timeline lookup failed", "id", params.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, timelineResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, timelineResponse{
		Message:  "OK",
		Timeline: timeline,
	})
}
