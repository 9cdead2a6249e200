// Command alert-sweep expires every active alert past its expiry and exits.
// Meant for cron when the engine's own sweeper is not running.
package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/mr1hm/go-emergency-alerts/internal/alerting"
	"github.com/mr1hm/go-emergency-alerts/internal/channel"
	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/dispatch"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Expiry never dispatches, the engine only satisfies the service
	engine := dispatch.NewEngine(channel.NewRegistry(), db, db, cfg.Dispatch)
	service := alerting.NewService(db, engine, nil, cfg.Response)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := service.ExpireDue(ctx)
	if err != nil {
		logging.Fatalf("Sweep failed: %v", err)
	}
	slog.Info("sweep complete", "expired", n)
}
