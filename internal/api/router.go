// Package api wires the HTTP surface: a health probe and the job endpoints
// used by external schedulers.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
)

func RegisterRoutes(app *fiber.App, health *handlers.HealthHandler, job *handlers.JobHandler, auth *middleware.AuthMiddleware) {
	app.Get("/health", health.Health)

	api := app.Group("/api/jobs")
	api.Use(auth.JobAuth())
	api.Post("/scheduled-publish", job.RunScheduledPublish)
	api.Get("/scheduled-publish/missed", job.ListMissed)
}
