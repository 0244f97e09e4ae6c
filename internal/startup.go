package internal

import (
	"context"
	"time"

	"github.com/lynkbyte/go-evolution-client/internal/eventlog"
	"github.com/lynkbyte/go-evolution-client/pkg/evolution"
	"github.com/lynkbyte/go-evolution-client/pkg/log"
)

// Startup eagerly resolves the default connection and prepares the optional
// event log so misconfiguration surfaces at boot, not on the first webhook.
func Startup(client *evolution.Client, store *eventlog.Store) {
	log.Print(nil).Info("Running Startup Tasks")

	if _, err := client.Registry().Resolve("default"); err != nil {
		if evolution.IsKind(err, evolution.KindConnectionNotFound) {
			log.Print(nil).Warn("No default gateway connection configured")
		} else {
			log.Print(nil).Error("Default gateway connection is invalid: " + err.Error())
		}
	} else {
		log.Print(nil).WithField("connections", client.Registry().ListAvailable()).Info("Gateway connections resolved")
	}

	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			log.Print(nil).Error("Failed to prepare webhook event log schema: " + err.Error())
		}
	}
}
