package routes

import (
	"net/http"

	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/pkg/graph"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetGraphStatsHandler reports knowledge graph totals.
func GetGraphStatsHandler(c echo.Context) error {
	type statsResponse struct {
		Message string       `json:"message"`
		Stats   *graph.Stats `json:"stats,omitempty"`
	}

	app := c.(*middleware.AppContext).App
	stats, err := app.GraphQuery.GetStats(c.Request().Context())
	if err != nil {
		logger.Error("[Routes] Graph stats failed", "err", err)
		return c.JSON(http.StatusInternalServerError, statsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, statsResponse{
		Message: "OK",
		Stats:   &stats,
	})
}
