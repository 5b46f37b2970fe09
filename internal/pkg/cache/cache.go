package cache

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the Redis-compatible cache server
// that backs idempotency claims, payment locks and notifications.
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	})

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] could not connect to %s:%s: %v", host, port, err)
	} else {
		log.Infof("[Cache] connected: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// SetClient replaces the shared client. Tests use it to inject miniredis.
func SetClient(c *redis.Client) {
	client = c
}

// Ping reports whether the cache answers within the context deadline.
func Ping(c context.Context) error {
	return GetClient().Ping(c).Err()
}
