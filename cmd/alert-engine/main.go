package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/mr1hm/go-emergency-alerts/internal/alerting"
	"github.com/mr1hm/go-emergency-alerts/internal/api"
	"github.com/mr1hm/go-emergency-alerts/internal/channel"
	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/dispatch"
	internalgrpc "github.com/mr1hm/go-emergency-alerts/internal/grpc"
	"github.com/mr1hm/go-emergency-alerts/internal/ingestion"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if cfg.Auth.JWTSecret == "" {
		slog.Warn("JWT_SECRET not set, authenticated routes will reject every request")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Lifecycle events fan out to gRPC streams
	broadcaster := internalgrpc.NewBroadcaster()

	engine := dispatch.NewEngine(buildRegistry(cfg, broadcaster), db, db, cfg.Dispatch)
	service := alerting.NewService(db, engine, broadcaster, cfg.Response)

	sweeper := alerting.NewSweeper(service, cfg.Sweep.Interval)
	sweeper.Start(ctx)

	// Delivery receipts arrive over the webhook and, when configured, Redis
	var sources []ingestion.Source
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sources = append(sources, ingestion.NewRedisSource(redisClient, cfg.Redis.ReceiptChannel))
	}
	mgr := ingestion.NewManager(cfg.Ingest, db, sources...)
	mgr.Start(ctx)

	grpcServer := internalgrpc.NewServer(service, broadcaster)
	go func() {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimit))

	handler := api.NewHandler(service, mgr, api.NewVerifier(cfg.Auth.JWTSecret))
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before draining the receipt queue
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	cancel()
	sweeper.Stop()
	mgr.Stop()
	if redisClient != nil {
		redisClient.Close()
	}
	broadcaster.Close() // Close all streams gracefully
	grpcServer.Stop()

	slog.Info("shutdown complete")
}

// buildRegistry wires the enabled providers. Channels left disabled still
// get a dispatcher so their sends are recorded as failed.
func buildRegistry(cfg *config.Config, publisher channel.Publisher) channel.Registry {
	var sms channel.Dispatcher = channel.Disabled{Ch: models.ChannelSMS}
	var push channel.Dispatcher = channel.Disabled{Ch: models.ChannelPush}
	var email channel.Dispatcher = channel.Disabled{Ch: models.ChannelEmail}

	if cfg.SMS.Enabled {
		sms = channel.NewSMSDispatcher(cfg.SMS, cfg.Dispatch.ProviderTimeout)
	}
	if cfg.Push.Enabled {
		push = channel.NewPushDispatcher(cfg.Push, cfg.Dispatch.ProviderTimeout)
	}
	if cfg.Email.Enabled {
		email = channel.NewEmailDispatcher(cfg.Email)
	}

	slog.Info("channels configured",
		"sms", cfg.SMS.Enabled,
		"push", cfg.Push.Enabled,
		"email", cfg.Email.Enabled,
	)
	return channel.NewRegistry(sms, push, email, channel.NewWebDispatcher(publisher))
}
