package server

import (
	"github.com/hansard-kg/engine/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", routes.HealthHandler)

	apiRoutes := e.Group("/api")

	// Retrieval routes
	apiRoutes.POST("/graphrag", routes.GraphRAGHandler)
	apiRoutes.GET("/nodes/:id", routes.GetNodeHandler)
}
