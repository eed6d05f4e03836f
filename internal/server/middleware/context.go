package middleware

import (
	"context"

	"github.com/hansard-kg/engine/pkg/query"

	"github.com/labstack/echo/v4"
)

// GraphQuerier is the part of query.Retriever the routes use.
type GraphQuerier interface {
	Retrieve(ctx context.Context, q string, p query.Params, opts ...query.RetrieveOption) (query.Result, error)
	Node(ctx context.Context, id string) (query.NodeDetail, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Retriever GraphQuerier
	// DB is pinged by the health route. It may be nil.
	DB Pinger
}

type AppContext struct {
	echo.Context
	App *App
}

// AppContextMiddleware hands app to every handler through AppContext.
func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
