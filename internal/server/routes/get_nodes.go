package routes

import (
	"errors"
	"net/http"

	"github.com/hansard-kg/engine/internal/server/middleware"
	"github.com/hansard-kg/engine/pkg/logger"
	"github.com/hansard-kg/engine/pkg/query"

	"github.com/labstack/echo/v4"
)

// GetNodeHandler returns a node with its aliases and edge count.
func GetNodeHandler(c echo.Context) error {
	type getNodeParams struct {
		ID string `param:"id" validate:"required,max=128"`
	}

	params := new(getNodeParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	retriever := c.(*middleware.AppContext).App.Retriever
	ctx := c.Request().Context()

	node, err := retriever.Node(ctx, params.ID)
	if errors.Is(err, query.ErrNodeNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Node not found"})
	}
	if err != nil {
		logger.Error("[Query] Node lookup failed", "id", params.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, node)
}
