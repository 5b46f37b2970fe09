package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

// ApiRouter serves provider webhooks and the operator API.
type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	webhooks := api.Group("/webhooks", h.webhookLimiter())
	webhooks.Post("/epayco", h.deps.Webhooks.HandleEpayco)
	webhooks.Get("/epayco", h.deps.Webhooks.HandleEpayco)
	webhooks.Post("/daimo", h.deps.Webhooks.HandleDaimo)

	h.registerAdminRoutes(api.Group("/v1"))
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

// webhookLimiter caps deliveries per source IP. Providers retry on 429.
func (h ApiRouter) webhookLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        env.GetEnvInt("WEBHOOK_RATE_LIMIT", 120),
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "rate_limited",
			})
		},
	})
}
