package routes

import (
	"net/http"

	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/pkg/common"
	"github.com/bluefishs/CK-Missive-sub000/pkg/docsearch"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetSimilarDocumentsHandler returns the documents closest to the given one
// by embedding distance.
func GetSimilarDocumentsHandler(c echo.Context) error {
	type similarParams struct {
		DocumentID int64 `param:"id" validate:"required,numeric"`
		Limit      int   `query:"limit"`
	}

	type similarResponse struct {
		Message   string            `json:"message"`
		Documents []common.Document `json:"documents,omitempty"`
	}

	params := new(similarParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, similarResponse{
			Message: "Invalid request",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, similarResponse{
			Message: "Invalid request",
		})
	}

	app := c.(*middleware.AppContext).App
	docs, err := docsearch.FindSimilar(c.Request().Context(), app.DBConn, params.DocumentID, params.Limit)
	if err != nil {
		logger.Error("[Routes] Similar document lookup failed", "document_id", params.DocumentID, "err", err)
		return c.JSON(http.StatusInternalServerError, similarResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, similarResponse{
		Message:   "OK",
		Documents: docs,
	})
}
