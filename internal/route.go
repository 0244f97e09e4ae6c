package internal

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lynkbyte/go-evolution-client/pkg/auth"
	"github.com/lynkbyte/go-evolution-client/pkg/env"
	"github.com/lynkbyte/go-evolution-client/pkg/router"

	ctlReceiver "github.com/lynkbyte/go-evolution-client/internal/receiver"
)

func Routes(app *fiber.App, receiver *ctlReceiver.Controller) {
	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlReceiver.Index)
	} else {
		app.Get(router.BaseURL, ctlReceiver.Index)
		app.Get(router.BaseURL+"/", ctlReceiver.Index)
	}

	app.Get(router.BaseURL+"/health", ctlReceiver.Health)

	// Webhook routes (shared-token authentication, per-IP flood limit)
	// ---------------------------------------------
	webhookToken := env.GetEnvStringOrDefault("WEBHOOK_TOKEN", "")
	tokenMiddleware := auth.WebhookToken(webhookToken)
	floodMiddleware := router.HttpRateLimit(
		float64(env.GetEnvIntOrDefault("WEBHOOK_FLOOD_RPS", 50)),
		env.GetEnvIntOrDefault("WEBHOOK_FLOOD_BURST", 100),
	)

	app.Post(router.BaseURL+"/webhook/evolution", tokenMiddleware, floodMiddleware, receiver.Receive)
	app.Post(router.BaseURL+"/webhook/evolution/:event", tokenMiddleware, floodMiddleware, receiver.Receive)
}
