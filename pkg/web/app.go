package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewApp registers the log routes. /metrics is served only when gatherer is not nil.
func NewApp(handlers *APIHandlers, gatherer prometheus.Gatherer) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: handlers.ready,
	}))
	app.Get("/health", handlers.HealthCheck)

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	l := app.Group("/logs")
	l.Post("/", handlers.SaveLog)
	l.Post("/batch", handlers.GetLogs)
	l.Get("/:id", handlers.GetLog)
	l.Delete("/:id", handlers.DeleteLog)
	l.Delete("/:id/offloaded", handlers.DeleteOffloadedData)
	l.Get("/:id/:field/url", handlers.SignedURL)

	app.Delete("/executions/:id/logs", handlers.DeleteExecutionLogs)

	return app
}
