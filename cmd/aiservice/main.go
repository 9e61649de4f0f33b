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
	envCfg := logger.LoadFromEnv()
	envCfg.ServiceName = "ecosync-aiservice"
	appLogger := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	metrics.InitMetrics()

	verifier, resources, err := app.BuildVerifier(cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize verifier")
	}
	defer func() {
		if err := resources.Close(); err != nil {
			appLogger.WithError(err).Warn("Failed to release resources")
		}
	}()

	if cfg.Verifier.APIKey == "" {
		appLogger.Warn("AI_SERVICE_KEY not set, /ai/verify accepts unauthenticated requests")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Verifier.Port),
		Handler: api.SetupVerifierRouter(verifier, cfg),
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":             cfg.Verifier.Port,
			"extractor_loaded": verifier.ExtractorLoaded(),
		}).Info("Starting verification service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down verification service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
}

