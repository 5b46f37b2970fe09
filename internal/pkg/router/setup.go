package router

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/app/controllers"
)

// Router registers a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the handlers and backing services the routes bind to.
type Dependencies struct {
	Webhooks     *controllers.WebhookController
	Admin        *controllers.AdminController
	AdminKeyHash string
	// LimiterStorage backs the webhook rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	// HealthChecks are run by /healthz, keyed by component name.
	HealthChecks map[string]func(ctx context.Context) error
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps.HealthChecks), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
