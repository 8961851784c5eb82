package routes

import (
	"net/http"

	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/pkg/graph"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetEntityNeighborsHandler walks the relationship graph outward from one
// entity, up to the requested hop count.
func GetEntityNeighborsHandler(c echo.Context) error {
	type neighborsParams struct {
		ID    string `param:"id" validate:"required"`
		Hops  int    `query:"hops"`
		Limit int    `query:"limit"`
	}

	type neighborsResponse struct {
		Message   string           `json:"message"`
		Neighbors []graph.Neighbor `json:"neighbors,omitempty"`
	}

	params := new(neighborsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, neighborsResponse{
			Message: "Invalid request",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, neighborsResponse{
			Message: "Invalid request",
		})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	entityID, err := app.Entities.FindByPublicID(ctx, params.ID)
	if err != nil {
		return c.JSON(http.StatusNotFound, neighborsResponse{
			Message: "Entity not found",
		})
	}

	neighbors, err := app.GraphQuery.GetNeighbors(ctx, entityID, params.Hops, params.Limit)
	if err != nil {
		logger.Error("[Routes] Neighbor walk failed", "id", params.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, neighborsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, neighborsResponse{
		Message:   "OK",
		Neighbors: neighbors,
	})
}
