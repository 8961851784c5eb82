package server

import (
	"github.com/bluefishs/CK-Missive-sub000/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Agent routes
	apiRoutes.POST("/agent/query", routes.AgentQueryHandler)

	// Search routes
	apiRoutes.POST("/search/intent", routes.ParseIntentHandler)
	apiRoutes.GET("/search/history", routes.GetSearchHistoryHandler)
	apiRoutes.POST("/search/history/:id/feedback", routes.SearchFeedbackHandler)

	// Document routes
	apiRoutes.GET("/documents/:id/similar", routes.GetSimilarDocumentsHandler)

	// Entity routes
	apiRoutes.GET("/entities", routes.GetEntitiesHandler)
	apiRoutes.GET("/entities/:id", routes.GetEntityHandler)
	apiRoutes.GET("/entities/:id/neighbors", routes.GetEntityNeighborsHandler)
	apiRoutes.GET("/entities/:id/timeline", routes.GetEntityTimelineHandler)
	apiRoutes.POST("/entities/merge", routes.MergeEntitiesHandler)

	// Graph routes
	apiRoutes.GET("/graph/path", routes.GetGraphPathHandler)
	apiRoutes.GET("/graph/top", routes.GetGraphTopHandler)
	apiRoutes.GET("/graph/stats", routes.GetGraphStatsHandler)
	apiRoutes.POST("/graph/ingest", routes.IngestDocumentHandler)
}
