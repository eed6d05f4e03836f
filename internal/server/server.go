package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hansard-kg/engine/internal/app"
	mid "github.com/hansard-kg/engine/internal/server/middleware"
	"github.com/hansard-kg/engine/internal/util"
	"github.com/hansard-kg/engine/pkg/logger"
	pgstore "github.com/hansard-kg/engine/pkg/store/pgx"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance serving a.
func New(a *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(a))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

// Init migrates the schema, wires the retriever and serves until SIGINT or
// SIGTERM.
func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if util.GetEnvBool("KG_MIGRATE", true) {
		if err := pgstore.Migrate(util.GetEnv("DATABASE_URL")); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}

	clients, err := app.WireClients(ctx)
	if err != nil {
		logger.Fatal("Could not wire clients", "err", err)
	}
	defer clients.Close()

	retriever, err := clients.NewRetriever()
	if err != nil {
		logger.Fatal("Could not create retriever", "err", err)
	}

	e := New(&mid.App{Retriever: retriever, DB: clients.Pool})

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
