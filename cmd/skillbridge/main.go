package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vaultic/skillbridge/internal/api"
	"github.com/vaultic/skillbridge/internal/backend"
	"github.com/vaultic/skillbridge/internal/bridge"
	"github.com/vaultic/skillbridge/internal/config"
	"github.com/vaultic/skillbridge/internal/delivery"
	"github.com/vaultic/skillbridge/internal/event"
	"github.com/vaultic/skillbridge/internal/notifier"
	"github.com/vaultic/skillbridge/internal/store"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting skillbridge...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/skillbridge.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize PostgreSQL store
	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("postgres unavailable", zap.Error(err))
	}
	if err := st.Migrate(ctx, "migrations"); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Initialize operator notifier
	opNotifier := notifier.New(logger)
	if cfg.Notifier.Slack.Enabled && cfg.Notifier.Slack.BotToken != "" {
		opNotifier.Register(notifier.NewSlackAdapter(cfg.Notifier.Slack.BotToken, cfg.Notifier.Slack.Channel, logger))
	}
	if cfg.Notifier.Discord.Enabled && cfg.Notifier.Discord.BotToken != "" {
		opNotifier.Register(notifier.NewDiscordAdapter(cfg.Notifier.Discord.BotToken, cfg.Notifier.Discord.Channel, logger))
	}
	if err := opNotifier.ConnectAll(ctx); err != nil {
		logger.Warn("some notifier adapters failed to connect", zap.Error(err))
	}

	// Initialize event bus + delivery dispatcher
	var bus *event.Bus
	deliveryCtx, stopDelivery := context.WithCancel(ctx)
	if cfg.Database.Redis.URL != "" {
		b, busErr := event.NewBus(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event delivery", zap.Error(busErr))
		} else {
			bus = b
			dispatcher := delivery.NewDispatcher(
				st, opNotifier,
				time.Duration(cfg.Delivery.TimeoutSec)*time.Second,
				cfg.Delivery.FailureThreshold,
				cfg.Delivery.Workers,
				logger,
			)
			go dispatcher.Run(deliveryCtx, bus.Subscribe(deliveryCtx))
			logger.Info("Event delivery started")
		}
	}

	// Initialize invocation bridge
	backendTimeout := time.Duration(cfg.Bridge.BackendTimeoutSec) * time.Second
	dispatcher := backend.NewClient(backendTimeout, logger)
	br := bridge.New(st, st, dispatcher, st, backendTimeout, logger)

	// Build HTTP handler
	var pub api.Publisher
	if bus != nil {
		pub = bus
	}
	handler := api.NewHandler(st, br, pub, opNotifier, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("skillbridge listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down skillbridge...")
	stopDelivery()
	srv.Shutdown(ctx)
	if bus != nil {
		bus.Close()
	}
	st.Close()
	opNotifier.Close()
}
