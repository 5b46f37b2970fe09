package cache

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

// NewFiberStorage returns a fiber.Storage on the same Redis server as the
// cache client, in a separate database so limiter counters never mix with
// idempotency keys.
func NewFiberStorage(database int) fiber.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient := GetClient(); cacheClient != nil {
		if h, p, err := net.SplitHostPort(cacheClient.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: database,
		Reset:    false,
	})
}
