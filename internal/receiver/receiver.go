package receiver

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lynkbyte/go-evolution-client/pkg/evolution"
	"github.com/lynkbyte/go-evolution-client/pkg/log"
	"github.com/lynkbyte/go-evolution-client/pkg/router"
)

// Controller terminates the gateway's webhook calls and feeds them into the
// processor.
type Controller struct {
	processor *evolution.WebhookProcessor
}

func New(processor *evolution.WebhookProcessor) *Controller {
	return &Controller{processor: processor}
}

// Receive handles POST /webhook/evolution. In webhook-by-events mode the
// gateway appends the event as a dashed path segment
// (/webhook/evolution/messages-upsert); when the body carries no event field
// the path segment fills it in.
func (ct *Controller) Receive(c *fiber.Ctx) error {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil || body == nil {
		log.Print(c).Warn("webhook body is not a JSON object")
		return router.ResponseUnprocessableEntity(c, "body must be a JSON object")
	}

	if segment := c.Params("event"); segment != "" {
		if _, ok := body["event"]; !ok {
			body["event"] = string(evolution.ParseEvent(segment))
		}
	}

	if err := ct.processor.Process(c.UserContext(), body); err != nil {
		// Surfacing a 5xx lets the gateway retry the delivery.
		log.Print(c).WithError(err).Error("webhook processing failed")
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccess(c, "webhook processed")
}

// Health handles GET /health.
func Health(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "ok", map[string]any{"status": "up"})
}

// Index handles GET /.
func Index(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "evolution webhook receiver", map[string]any{
		"endpoints": []string{"POST /webhook/evolution", "POST /webhook/evolution/:event", "GET /health"},
	})
}
