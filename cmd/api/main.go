package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/docs-agent/backend/internal/api/handlers"
	"github.com/docs-agent/backend/internal/app"
	"github.com/docs-agent/backend/internal/metrics"
	"github.com/docs-agent/backend/internal/middleware/ratelimit"
	"github.com/docs-agent/backend/internal/middleware/security"
	"github.com/docs-agent/backend/internal/middleware/validation"
	"github.com/docs-agent/backend/pkg/config"
	appLogger "github.com/docs-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting docs agent API server")

	metrics.Init()

	pipeline, err := app.New(context.Background(), cfg)
	if err != nil {
		appLogger.Fatal("Failed to assemble pipeline", zap.Error(err))
	}
	defer pipeline.Close()

	fiberApp := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute:   cfg.RateLimit.RequestsPerMinute,
		Burst:               cfg.RateLimit.Burst,
		TrustClientIDHeader: cfg.RateLimit.TrustClientIDHeader,
		Logger:              appLogger.GetLogger(),
	})
	defer limiter.Stop()

	fiberApp.Use(recover.New())
	fiberApp.Use(logger.New())
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, X-Client-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	fiberApp.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: security.SplitOrigins(cfg.Server.AllowOrigins),
		IsDevelopment:  cfg.Logging.Format == "console",
	}))

	queryHandler := handlers.NewQueryHandler(pipeline.Engine, pipeline.History)
	wsHandler := handlers.NewWebSocketHandler(pipeline.Engine, cfg.Server.MaxQueryLength)
	indexHandler := handlers.NewIndexHandler(pipeline.Indexer)
	competitionHandler := handlers.NewCompetitionHandler(pipeline.Orchestrator, pipeline.Writer, pipeline.Judge)

	api := fiberApp.Group("/api/v1")

	api.Get("/welcome", handlers.Welcome)
	api.Get("/health", indexHandler.Health)
	api.Get("/ready", indexHandler.Ready)

	limited := api.Group("", limiter.Middleware())

	limited.Post("/query",
		validation.QueryBody(validation.Config{
			MaxQueryLength: cfg.Server.MaxQueryLength,
			Logger:         appLogger.GetLogger(),
		}),
		queryHandler.HandleQuery,
	)
	limited.Get("/query/history", queryHandler.GetQueryHistory)
	limited.Get("/query/ws", wsHandler.Upgrade, websocket.New(wsHandler.HandleConnection))
	limited.Post("/index", indexHandler.EnsureIndexed)

	limited.Post("/competition", competitionHandler.RunCompetition)
	limited.Post("/agents/writer", competitionHandler.Write)
	limited.Post("/agents/judge", competitionHandler.Judge)

	fiberApp.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := fiberApp.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := fiberApp.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
