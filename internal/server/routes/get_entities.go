package routes

import (
	"net/http"

	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/pkg/graph"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetEntitiesHandler searches canonical entities by name, or lists the most
// mentioned ones when no query is given.
func GetEntitiesHandler(c echo.Context) error {
	type entitiesParams struct {
		Query string `query:"q"`
		Type  string `query:"type"`
		Limit int    `query:"limit"`
	}

	type entitiesResponse struct {
		Message  string                `json:"message"`
		Entities []graph.EntitySummary `json:"entities,omitempty"`
	}

	params := new(entitiesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, entitiesResponse{
			Message: "Invalid request",
		})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	var (
		entities []graph.EntitySummary
		err      error
	)
	if params.Query != "" {
		entities, err = app.GraphQuery.SearchEntities(ctx, params.Query, params.Limit)
		if err == nil && params.Type != "" {
			filtered := entities[:0]
			for _, e := range entities {
				if e.Type == params.Type {
					filtered = append(filtered, e)
				}
			}
			entities = filtered
		}
	} else {
		entities, err = app.GraphQuery.GetTopEntities(ctx, params.Type, params.Limit)
	}
	if err != nil {
		logger.Error("[Routes] Entity search failed", "query", params.Query, "err", err)
		return c.JSON(http.StatusInternalServerError, entitiesResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, entitiesResponse{
		Message:  "OK",
		Entities: entities,
	})
}
