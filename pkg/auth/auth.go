package auth

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/lynkbyte/go-evolution-client/pkg/router"
)

// WebhookToken guards the inbound webhook endpoint with a shared secret the
// gateway is configured to send. An empty expected token disables the check.
// The token is read from the X-Webhook-Token header or, for gateways that
// can only append query parameters, from ?token=.
func WebhookToken(expected string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if expected == "" {
			return c.Next()
		}

		presented := c.Get("X-Webhook-Token")
		if presented == "" {
			presented = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
			return router.ResponseUnauthorized(c, "invalid webhook token")
		}
		return c.Next()
	}
}
