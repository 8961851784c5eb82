package routes

import (
	"net/http"

	"github.com/bluefishs/CK-Missive-sub000/internal/queue"
	"github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// IngestDocumentHandler queues documents for entity extraction and graph
// ingestion. The work itself happens in the worker; this endpoint only
// enqueues.
func IngestDocumentHandler(c echo.Context) error {
	type ingestRequest struct {
		DocumentIDs []int64 `json:"document_ids" validate:"required,min=1,dive,gt=0"`
		Force       bool    `json:"force"`
	}

	type ingestResponse struct {
		Message string `json:"message"`
		Queued  int    `json:"queued"`
	}

	data := new(ingestRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{
			Message: "Invalid request body",
		})
	}

	app := c.(*middleware.AppContext).App

	queued := 0
	for _, id := range data.DocumentIDs {
		if err := queue.PublishDocumentJob(app.Queue, queue.ExtractQueue, id, "api request", data.Force); err != nil {
			logger.Error("[Routes] Failed to queue document for extraction", "document_id", id, "err", err)
			continue
		}
		queued++
	}
	if queued == 0 {
		return c.JSON(http.StatusInternalServerError, ingestResponse{
			Message: "Failed to queue documents",
		})
	}

	return c.JSON(http.StatusOK, ingestResponse{
		Message: "Documents queued for extraction",
		Queued:  queued,
	})
}
