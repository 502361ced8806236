package server

import (
	"github.com/tracemap/cartograph/internal/server/routes"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	// Prometheus scrape endpoint
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiRoutes := e.Group("/api")

	// Document routes
	apiRoutes.POST("/documents", routes.CreateDocumentHandler)
	apiRoutes.POST("/documents/:id/process", routes.ProcessDocumentHandler)
	apiRoutes.GET("/documents/:id/status", routes.GetDocumentStatusHandler)
	apiRoutes.DELETE("/documents/:id", routes.DeleteDocumentHandler)

	// Query routes
	apiRoutes.POST("/query", routes.QueryHandler)

	// Graph routes
	apiRoutes.GET("/entities/:id/neighbors", routes.GetEntityNeighborsHandler)
	apiRoutes.GET("/path", routes.GetPathHandler)
	apiRoutes.GET("/graph/stats", routes.GetGraphStatsHandler)
}
