package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/database"
	"github.com/ManuelReschke/PayFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/ManuelReschke/PayFox/internal/pkg/idempotency"
	"github.com/ManuelReschke/PayFox/internal/pkg/locker"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayFox/internal/pkg/notify"
	"github.com/ManuelReschke/PayFox/internal/pkg/recovery"
	"github.com/ManuelReschke/PayFox/internal/pkg/router"
)

func main() {
	app, manager := NewApplication()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("[Main] shutting down")
		manager.Stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("[Main] shutdown: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *recovery.Manager) {
	env.SetupEnvFile()

	cfg := billing.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[Main] invalid payment configuration: %v", err)
	}

	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())
	store, err := repository.Global()
	if err != nil {
		log.Fatalf("[Main] %v", err)
	}

	rdb := cache.GetClient()
	repos := store.Store()
	locks := locker.New(rdb)

	service := billing.NewService(cfg, repos,
		idempotency.NewGuard(rdb, cfg.IdempotencyTTL),
		locks,
		entitlements.NewApplier(),
		notify.NewRedisPublisher(rdb, env.GetEnv("NOTIFY_QUEUE", notify.DefaultQueue)),
	)

	manager := recovery.NewManager(recovery.ConfigFromEnv(), service,
		store.Payments(), locks,
		billing.NewEpaycoClient(cfg),
		billing.NewDaimoClient(cfg),
	)
	if env.GetEnvBool("PAYMENT_RECOVERY_ENABLED", true) {
		manager.Start()
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: env.GetEnv("OPENAPI_FILE", "./public/docs/v1/openapi.yml"),
		Path:     "v1",
	}))

	var limiterStorage fiber.Storage
	if env.GetEnvBool("WEBHOOK_LIMITER_REDIS", !env.IsDev()) {
		limiterStorage = cache.NewFiberStorage(env.GetEnvInt("WEBHOOK_LIMITER_DB", 1))
	}

	counters := counter.New(rdb)
	router.InstallRouter(app, router.Dependencies{
		Webhooks:       controllers.NewWebhookController(service, counters),
		Admin:          controllers.NewAdminController(service, manager, counters),
		AdminKeyHash:   env.GetEnv("ADMIN_API_KEY_HASH", ""),
		LimiterStorage: limiterStorage,
		HealthChecks: map[string]func(ctx context.Context) error{
			"database": database.Ping,
			"cache":    cache.Ping,
		},
	})

	return app, manager
}
