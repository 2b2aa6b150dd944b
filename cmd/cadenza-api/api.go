// Package main provides the cadenza API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/cadenza-io/cadenza/pkg/engine"
	"github.com/cadenza-io/cadenza/pkg/engine/flow"
	"github.com/cadenza-io/cadenza/pkg/engine/pool"
	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/persistence"
	"github.com/cadenza-io/cadenza/pkg/progress"
	"github.com/cadenza-io/cadenza/pkg/registry"
	"github.com/cadenza-io/cadenza/pkg/shadow"
	"github.com/cadenza-io/cadenza/pkg/web"
)

type API struct {
	logger          *slog.Logger
	persistence     persistence.Persistence
	registry        *registry.Registry
	publisher       *progress.Publisher
	engines         map[models.Provider]engine.Engine
	defaultProvider models.Provider

	poolEngine *pool.Engine
	flowEngine *flow.Engine
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	reg *registry.Registry,
	publisher *progress.Publisher,
	defaultProvider models.Provider,
	cfg engine.Config,
) *API {
	poolEngine := pool.NewEngine(store, reg, cfg)
	flowEngine := flow.NewEngine(store, reg, cfg)
	shadowEngine := shadow.NewCoordinator(poolEngine, flowEngine, logger)

	return &API{
		logger:      logger,
		persistence: store,
		registry:    reg,
		publisher:   publisher,
		engines: map[models.Provider]engine.Engine{
			models.ProviderPool:   poolEngine,
			models.ProviderFlow:   flowEngine,
			models.ProviderShadow: shadowEngine,
		},
		defaultProvider: defaultProvider,
		poolEngine:      poolEngine,
		flowEngine:      flowEngine,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engines, a.defaultProvider, a.persistence, a.publisher, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Cadenza API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(ctx context.Context, port int) error {
	if err := a.poolEngine.Start(ctx); err != nil {
		return err
	}

	if err := a.flowEngine.Start(ctx); err != nil {
		return err
	}

	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
