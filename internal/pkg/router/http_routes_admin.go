package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
)

func (h ApiRouter) registerAdminRoutes(v1 fiber.Router) {
	adminGroup := v1.Group("/admin", middleware.AdminAPIKeyMiddleware(h.deps.AdminKeyHash))

	// Recovery jobs
	adminGroup.Get("/recovery/stats", h.deps.Admin.HandleRecoveryStats)
	adminGroup.Post("/recovery/sweep", h.deps.Admin.HandleRunSweep)
	adminGroup.Post("/recovery/cleanup", h.deps.Admin.HandleRunCleanup)

	// Webhook outcome counters
	adminGroup.Get("/webhooks/stats", h.deps.Admin.HandleWebhookStats)

	// Payments
	adminGroup.Get("/payments/:id", h.deps.Admin.HandlePaymentDetail)
	adminGroup.Post("/payments/:id/cancel", h.deps.Admin.HandleCancelPayment)
}
