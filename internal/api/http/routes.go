// Package httpapi exposes the read-only status surface of the collection
// service. Failures in collection never surface here as errors; they only
// show up as stale timestamps.
package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/service"
)

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, svc *service.Service) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "marine-data-service",
		})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"pollers": svc.Status(),
		})
	})

	v1.Get("/latest", func(c *fiber.Ctx) error {
		return c.JSON(svc.Latest())
	})
}
