package routes

import (
	"net/http"

	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SearchFeedbackHandler applies a user vote to a stored search. Positive
// feedback promotes the search in intent reuse; negative demotes it.
func SearchFeedbackHandler(c echo.Context) error {
	type feedbackRequest struct {
		ID    string `param:"id" validate:"required"`
		Delta int    `json:"delta" validate:"required,oneof=-1 1"`
	}

	type feedbackResponse struct {
		Message string `json:"message"`
	}

	data := new(feedbackRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, feedbackResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, feedbackResponse{
			Message: "Invalid request body",
		})
	}

	app := c.(*middleware.AppContext).App
	if err := app.History.UpdateFeedback(c.Request().Context(), data.ID, data.Delta); err != nil {
		logger.Warn("[Routes] Feedback update failed", "id", data.ID, "err", err)
		return c.JSON(http.StatusNotFound, feedbackResponse{
			Message: "Search history entry not found",
		})
	}

	return c.JSON(http.StatusOK, feedbackResponse{
		Message: "Feedback recorded",
	})
}
