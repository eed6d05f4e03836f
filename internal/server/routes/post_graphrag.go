package routes

import (
	"errors"
	"net/http"
	"strings"

	"github.com/hansard-kg/engine/internal/server/middleware"
	"github.com/hansard-kg/engine/pkg/graph"
	"github.com/hansard-kg/engine/pkg/logger"
	"github.com/hansard-kg/engine/pkg/query"

	"github.com/labstack/echo/v4"
)

// GraphRAGHandler answers a question with seeds, the expanded subgraph and
// cited utterances.
func GraphRAGHandler(c echo.Context) error {
	type graphRAGData struct {
		Query  string       `json:"query" validate:"required,max=2000"`
		Params query.Params `json:"params"`
	}

	data := new(graphRAGData)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	data.Query = strings.TrimSpace(data.Query)
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	retriever := c.(*middleware.AppContext).App.Retriever
	ctx := c.Request().Context()

	res, err := retriever.Retrieve(ctx, data.Query, data.Params)
	if err != nil {
		logger.Error("[Query] GraphRAG request failed", "err", err)
		var se *graph.StoreError
		if errors.As(err, &se) {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Graph store unavailable"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, res)
}
