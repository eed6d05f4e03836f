package routes

import (
	"net/http"

	"github.com/hansard-kg/engine/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

func HealthHandler(c echo.Context) error {
	db := c.(*middleware.AppContext).App.DB
	if db != nil {
		if err := db.Ping(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, "database unavailable")
		}
	}
	return c.String(http.StatusOK, "OK")
}
