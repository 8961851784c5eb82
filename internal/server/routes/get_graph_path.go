package routes

import (
	"net/http"

	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/pkg/graph"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetGraphPathHandler finds the shortest relationship path between two
// entities. An empty path means the entities are not connected within the
// hop bound.
func GetGraphPathHandler(c echo.Context) error {
	type pathParams struct {
		From string `query:"from" validate:"required"`
		To   string `query:"to" validate:"required"`
		Hops int    `query:"hops"`
	}

	type pathResponse struct {
		Message string                `json:"message"`
		Path    []graph.EntitySummary `json:"path"`
	}

	params := new(pathParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, pathResponse{
			Message: "Invalid request",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, pathResponse{
			Message: "Invalid request",
		})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	fromID, err := app.Entities.FindByPublicID(ctx, params.From)
	if err != nil {
		return c.JSON(http.StatusNotFound, pathResponse{
			Message: "Source entity not found",
		})
	}
	toID, err := app.Entities.FindByPublicID(ctx, params.To)
	if err != nil {
		return c.JSON(http.StatusNotFound, pathResponse{
			Message: "Target entity not found",
		})
	}

	path, err := app.GraphQuery.FindShortestPath(ctx, fromID, toID, params.Hops)
	if err != nil {
		logger.Error("[Routes] Path search failed", "from", params.From, "to", params.To, "err", err)
		return c.JSON(http.StatusInternalServerError, pathResponse{
			Message: "Internal server error",
		})
	}

	message := "OK"
	if len(path) == 0 {
		message = "No path found"
	}
	return c.JSON(http.StatusOK, pathResponse{
		Message: message,
		Path:    path,
	})
}
