package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/crypto/bcrypt"
)

// AdminAPIKeyMiddleware authenticates operator requests carrying an API key
// header against a bcrypt hash. An empty hash disables the admin surface.
func AdminAPIKeyMiddleware(keyHash string) fiber.Handler {
	hash := []byte(strings.TrimSpace(keyHash))
	if len(hash) == 0 {
		log.Warn("[Admin] ADMIN_API_KEY_HASH not set, admin routes disabled")
	}

	return func(c *fiber.Ctx) error {
		if len(hash) == 0 {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"success": false, "error": "admin_disabled"})
		}

		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "unauthorized", "message": "Missing API key"})
		}

		if err := bcrypt.CompareHashAndPassword(hash, []byte(apiKey)); err != nil {
			log.Warnf("[Admin] rejected api key remote_ip=%s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "unauthorized", "message": "Invalid API key"})
		}

		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
