package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/ecosync/internal/api"
	"github.com/timmy/ecosync/internal/app"
	"github.com/timmy/ecosync/internal/config"
	"github.com/timmy/ecosync/internal/logger"
	"github.com/timmy/ecosync/internal/metrics"
)

func main() {
	// Initialize logger
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	metrics.InitMetrics()

	services, err := app.Build(cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize services")
	}
	defer func() {
		if err := services.Close(); err != nil {
			appLogger.WithError(err).Warn("Failed to release resources")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Periodic purge of stale rejected posts
	if cfg.Purge.Enabled {
		go services.Purge.Run(appLogger.WithContext(ctx), cfg.Purge.Interval)
	}

	// Setup router
	router := api.SetupRouter(&api.Services{
		Verification: services.Verification,
		Purge:        services.Purge,
		Rewards:      services.Rewards,
		LostFound:    services.LostFound,
	}, cfg)
	if cfg.Admin.APIKey == "" {
		appLogger.Warn("ADMIN_API_KEY not set, admin endpoints are disabled")
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
