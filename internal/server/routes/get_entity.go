package routes

import (
	"net/http"

	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/pkg/graph"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetEntityHandler returns one entity's full detail by public id: aliases,
// relationships, and recent documents.
func GetEntityHandler(c echo.Context) error {
	type entityParams struct {
		ID string `param:"id" validate:"required"`
	}

	type entityResponse struct {
		Message string             `json:"message"`
		Entity  *graph.EntityDetail `json:"entity,omitempty"`
	}

	params := new(entityParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, entityResponse{
			Message: "Invalid request",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, entityResponse{
			Message: "Invalid request",
		})
	}

	app := c.(*middleware.AppContext).App
	detail, err := app.GraphQuery.GetEntityDetail(c.Request().Context(), params.ID)
	if err != nil {
		logger.Error("[Routes] Entity detail failed", "id", params.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, entityResponse{
			Message: "Internal server error",
		})
	}
	if detail == nil {
		return c.JSON(http.StatusNotFound, entityResponse{
			Message: "Entity not found",
		})
	}

	return c.JSON(http.StatusOK, entityResponse{
		Message: "OK",
		Entity:  detail,
	})
}
