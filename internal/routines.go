package internal

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lynkbyte/go-evolution-client/pkg/env"
	"github.com/lynkbyte/go-evolution-client/pkg/evolution"
	"github.com/lynkbyte/go-evolution-client/pkg/log"
)

// Routines schedules the periodic instance status sync: each configured
// instance is asked for its connection state through the gateway client, so
// a missed CONNECTION_UPDATE webhook does not leave the host stale forever.
func Routines(c *cron.Cron, client *evolution.Client) {
	log.Print(nil).Info("Running Routine Tasks")

	instances := env.GetEnvStringSliceOrDefault("EVOLUTION_SYNC_INSTANCES", nil)
	if len(instances) == 0 {
		log.Print(nil).Info("Status sync cron disabled; no instances configured")
		return
	}

	spec := env.GetEnvStringOrDefault("EVOLUTION_SYNC_CRON", "0 */5 * * * *")
	_, err := c.AddFunc(spec, func() {
		for _, instance := range instances {
			syncInstanceStatus(client, instance)
		}
	})
	if err != nil {
		log.Print(nil).WithField("error", err.Error()).Error("Failed to add status sync cron job")
	}
}

func syncInstanceStatus(client *evolution.Client, instance string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := client.Instance(instance).
		Get(ctx, "/instance/connectionState/{instance}", nil)
	if err != nil {
		if evolution.IsKind(err, evolution.KindRateLimitExceeded) {
			log.Print(nil).WithField("instance", instance).Warn("Status sync skipped, rate limited")
			return
		}
		log.Print(nil).WithField("instance", instance).Warn("Status sync failed: " + err.Error())
		return
	}

	state := evolution.ParseConnectionState(result.GetString("instance.state", result.GetString("state", "")))
	log.Print(nil).
		WithField("instance", instance).
		WithField("state", string(state)).
		Info("Instance status synced")
}
