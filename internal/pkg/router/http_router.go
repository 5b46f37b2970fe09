package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/monitor"
)

// HttpRouter serves the operational endpoints outside /api.
type HttpRouter struct {
	checks map[string]func(ctx context.Context) error
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", h.handleHealth)
	app.Get("/metrics", monitor.New(monitor.Config{Title: "PayFox Metrics"}))
}

func NewHttpRouter(checks map[string]func(ctx context.Context) error) *HttpRouter {
	return &HttpRouter{checks: checks}
}

func (h HttpRouter) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	components := fiber.Map{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			log.Warnf("[Health] %s: %v", name, err)
			components[name] = "down"
			status = fiber.StatusServiceUnavailable
			continue
		}
		components[name] = "up"
	}

	return c.Status(status).JSON(fiber.Map{
		"success":    status == fiber.StatusOK,
		"components": components,
	})
}
