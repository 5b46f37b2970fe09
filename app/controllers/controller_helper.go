package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// clientIP determines the caller address considering Cloudflare and proxy
// headers. The first X-Forwarded-For entry is the original client.
func clientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}

	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}

	if realIP := strings.TrimSpace(c.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	// IPv4 addresses mapped into IPv6 (::ffff:192.168.1.1)
	return strings.TrimPrefix(c.IP(), "::ffff:")
}
