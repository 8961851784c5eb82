package routes

import (
	"net/http"

	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/pkg/graph"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetGraphTopHandler lists the most mentioned entities, optionally filtered
// by type.
func GetGraphTopHandler(c echo.Context) error {
	type topParams struct {
		Type  string `query:"type"`
		Limit int    `query:"limit"`
	}

	type topResponse struct {
		Message  string                `json:"message"`
		Entities []graph.EntitySummary `json:"entities,omitempty"`
	}

	params := new(topParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, topResponse{
			Message: "Invalid request",
		})
	}

	app := c.(*middleware.AppContext).App
	entities, err := app.GraphQuery.GetTopEntities(c.Request().Context(), params.Type, params.Limit)
	if err != nil {
		logger.Error("[Routes] Top entity lookup failed", "err", err)
		return c.JSON(http.StatusInternalServerError, topResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, topResponse{
		Message:  "OK",
		Entities: entities,
	})
}
