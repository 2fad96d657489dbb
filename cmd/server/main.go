package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/opensandbox/batchfleet/internal/api"
	"github.com/opensandbox/batchfleet/internal/auth"
	"github.com/opensandbox/batchfleet/internal/config"
	"github.com/opensandbox/batchfleet/internal/db"
	"github.com/opensandbox/batchfleet/internal/fleet"
	"github.com/opensandbox/batchfleet/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()
	if cfg.SecretsLoaded > 0 {
		logger.Info("loaded secrets", zap.Int("count", cfg.SecretsLoaded))
	}

	ctx := context.Background()

	f, err := fleet.New(ctx, cfg, logger, fleet.Options{})
	if err != nil {
		logger.Fatal("failed to build control plane", zap.Error(err))
	}
	defer f.Close()

	// Archive events when both PG and NATS are configured
	if f.Store != nil && cfg.NATSURL != "" {
		consumer, err := db.NewSyncConsumer(f.Store, cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("NATS sync consumer not available, continuing without", zap.Error(err))
		} else if err := consumer.Start(); err != nil {
			logger.Warn("failed to start NATS sync consumer", zap.Error(err))
		} else {
			defer consumer.Stop()
		}
	}

	reconciler := f.Reconciler()
	reconciler.Start()
	defer reconciler.Stop()

	deps := api.Deps{
		Gateway: f.Gateway,
		Scaler:  f.Scaler,
		Health:  f.Health,
		Waiter:  f.Waiter,
		Pools:   f.Pools,
		Jobs:    f.Jobs,
		Tasks:   f.Tasks,
		Apps:    f.Apps,
		Targets: f.Targets,
		APIKeys: auth.ParseKeys(cfg.APIKey),
		Logger:  logger,
	}
	if f.Store != nil {
		deps.History = f.Store
	}
	server := api.NewServer(deps)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("starting server", zap.String("addr", addr), zap.String("mode", cfg.Mode))

	go func() {
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			quit <- syscall.SIGTERM
		}
	}()

	<-quit
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error closing server", zap.Error(err))
	}
}
