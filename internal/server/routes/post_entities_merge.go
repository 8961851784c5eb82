package routes

import (
	"net/http"

	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/pkg/entity"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// MergeEntitiesHandler folds one duplicate entity into another. The loser's
// aliases, mentions, and relationships move to the winner and the loser is
// removed; the operation is transactional.
func MergeEntitiesHandler(c echo.Context) error {
	type mergeRequest struct {
		WinnerID string `json:"winner_id" validate:"required"`
		LoserID  string `json:"loser_id" validate:"required"`
	}

	type mergeResponse struct {
		Message string              `json:"message"`
		Result  *entity.MergeResult `json:"result,omitempty"`
	}

	data := new(mergeRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, mergeResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, mergeResponse{
			Message: "Invalid request body",
		})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	winnerID, err := app.Entities.FindByPublicID(ctx, data.WinnerID)
	if err != nil {
		return c.JSON(http.StatusNotFound, mergeResponse{
			Message: "Winner entity not found",
		})
	}
	loserID, err := app.Entities.FindByPublicID(ctx, data.LoserID)
	if err != nil {
		return c.JSON(http.StatusNotFound, mergeResponse{
			Message: "Loser entity not found",
		})
	}

	result, err := app.Entities.Merge(ctx, winnerID, loserID)
	if err != nil {
		logger.Error("[Routes] Entity merge failed",
			"winner", data.WinnerID, "loser", data.LoserID, "err", err)
		return c.JSON(http.StatusInternalServerError, mergeResponse{
			Message: "Internal server error",
		})
	}

	app.GraphCache.Invalidate(ctx)

	return c.JSON(http.StatusOK, mergeResponse{
		Message: "Entities merged",
		Result:  &result,
	})
}
