package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	"github.com/lynkbyte/go-evolution-client/pkg/env"
	"github.com/lynkbyte/go-evolution-client/pkg/eventbus"
	"github.com/lynkbyte/go-evolution-client/pkg/evolution"
	"github.com/lynkbyte/go-evolution-client/pkg/log"
	"github.com/lynkbyte/go-evolution-client/pkg/router"

	"github.com/lynkbyte/go-evolution-client/internal"
	"github.com/lynkbyte/go-evolution-client/internal/eventlog"
	"github.com/lynkbyte/go-evolution-client/internal/receiver"
)

type Server struct {
	Address string
	Port    string
}

func main() {
	// Initialize Cron
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
	), cron.WithSeconds())

	// Initialize Gateway Client
	cfg := evolution.ConfigFromEnv()
	logger := log.NewAdapter()
	client := evolution.New(cfg, logger)

	// Initialize Event Bus + Webhook Processor
	bus := eventbus.New(
		env.GetEnvIntOrDefault("EVENTBUS_WORKERS", 4),
		env.GetEnvIntOrDefault("EVENTBUS_QUEUE_SIZE", 1000),
		logger,
	)
	bus.SubscribeAll(func(_ context.Context, event evolution.DomainEvent) {
		log.Print(nil).WithField("event", event.EventName()).Debug("Domain event dispatched")
	})
	processor := evolution.NewWebhookProcessor(bus, logger)

	// Optional Webhook Event Log (enabled when a DSN is configured)
	var store *eventlog.Store
	if dsn := env.GetEnvStringOrDefault("EVENTLOG_DSN", ""); dsn != "" {
		var err error
		store, err = eventlog.Open(dsn)
		if err != nil {
			log.Print(nil).Fatal("Failed to open webhook event log: " + err.Error())
		}
		processor.RegisterWildcardHandler(store.Handler())
	}

	// Initialize Fiber
	app := fiber.New(fiber.Config{
		ErrorHandler: router.HttpErrorHandler,
		BodyLimit:    router.BodyLimitBytes(),
	})

	// Request ID + panic recovery (structured JSON)
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())

	// Router Compression
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
	}))

	// Router CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE",
	}))

	// Router Security
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router Cache
	app.Use(router.HttpCacheInMemory(router.CacheTTLSeconds))

	// Router RealIP + request context enrichment
	app.Use(router.HttpRealIP())

	// Router Default Handler
	app.Get("/favicon.ico", router.ResponseNoContent)

	// Load Internal Routes
	internal.Routes(app, receiver.New(processor))

	// Running Startup Tasks
	internal.Startup(client, store)

	// Running Routines Tasks
	internal.Routines(c, client)
	c.Start()

	// Get Server Configuration with defaults
	var serverConfig Server

	// SERVER_ADDRESS: default "0.0.0.0" (all interfaces)
	serverConfig.Address = env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0")

	// SERVER_PORT: default "7002"
	serverConfig.Port = env.GetEnvStringOrDefault("SERVER_PORT", "7002")

	// Start Server
	go func() {
		if err := app.Listen(serverConfig.Address + ":" + serverConfig.Port); err != nil {
			log.Print(nil).Fatal(err.Error())
		}
	}()

	// Watch for Shutdown Signal
	sigShutdown := make(chan os.Signal, 1)
	signal.Notify(sigShutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigShutdown

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// Try To Shutdown Server
	if err := app.ShutdownWithContext(ctxShutdown); err != nil {
		log.Print(nil).Error(err.Error())
	}

	// Drain Event Bus, Stop Cron, Close Event Log
	bus.Shutdown()
	c.Stop()
	if store != nil {
		_ = store.Close()
	}
}
