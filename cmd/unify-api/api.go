// Package main provides the Unify API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/unifyos/unify/pkg/cmd"
	"github.com/unifyos/unify/pkg/services"
	"github.com/unifyos/unify/pkg/web"
)

type API struct {
	logger     *slog.Logger
	runtime    *cmd.Runtime
	dispatcher web.Dispatcher
	validate   *validator.Validate
}

func NewAPI(logger *slog.Logger, runtime *cmd.Runtime, dispatcher web.Dispatcher) *API {
	return &API{
		logger:     logger,
		runtime:    runtime,
		dispatcher: dispatcher,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	stores := a.runtime.Stores

	workflowService := services.NewWorkflow(stores.Persistence, stores.Credentials, a.runtime.Registry, a.runtime.Engine, a.logger)
	handlers := web.NewAPIHandlers(workflowService, a.dispatcher, a.validate, a.runtime.Registry, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			_, ok := workflowService.HealthCheck(c.Context())

			return ok
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Unify API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
