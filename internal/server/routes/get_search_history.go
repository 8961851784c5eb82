package routes

import (
	"net/http"

	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/pkg/intent"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetSearchHistoryHandler lists recent stored searches, newest first.
func GetSearchHistoryHandler(c echo.Context) error {
	type historyParams struct {
		Limit int `query:"limit"`
	}

	type historyResponse struct {
		Message string          `json:"message"`
		History []intent.Record `json:"history,omitempty"`
	}

	params := new(historyParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, historyResponse{
			Message: "Invalid request",
		})
	}

	app := c.(*middleware.AppContext).App
	records, err := app.History.GetRecent(c.Request().Context(), params.Limit)
	if err != nil {
		logger.Error("[Routes] Failed to list search history", "err", err)
		return c.JSON(http.StatusInternalServerError, historyResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, historyResponse{
		Message: "OK",
		History: records,
	})
}
