package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// HttpRequestID attaches a request id to the context and the response,
// honoring an inbound X-Request-ID when present.
func HttpRequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals("request_id", id)
		c.Set("X-Request-ID", id)
		return c.Next()
	}
}
