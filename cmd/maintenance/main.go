package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/ecosync/internal/app"
	"github.com/timmy/ecosync/internal/config"
	"github.com/timmy/ecosync/internal/logger"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "ecosync-maintenance",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	purge := flag.Bool("purge", false, "Delete rejected posts older than the retention window")
	retry := flag.Bool("retry", false, "Re-run verification for pending posts")
	limit := flag.Int("limit", 100, "Maximum number of pending posts to re-verify")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if !*purge && !*retry {
		appLogger.Fatal("Nothing to do: pass -purge and/or -retry")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	services, err := app.Build(cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize services")
	}
	defer services.Close()

	ctx, cancel := context.WithCancel(appLogger.WithContext(context.Background()))
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		appLogger.Info("Received shutdown signal, stopping...")
		cancel()
	}()

	if *purge {
		n, err := services.Purge.PurgeStale(ctx)
		if err != nil {
			appLogger.WithError(err).Error("Purge failed")
		} else {
			appLogger.WithField("purged", n).Info("Purge completed")
		}
	}

	if *retry {
		stats, err := services.Verification.ReverifyPending(ctx, *limit)
		if err != nil {
			appLogger.WithError(err).Error("Re-verification failed")
			return
		}
		appLogger.WithFields(logger.Fields{
			"total":         stats.Total,
			"verified":      stats.Verified,
			"rejected":      stats.Rejected,
			"still_pending": stats.StillPending,
			"failed":        stats.Failed,
			"duration":      stats.EndTime.Sub(stats.StartTime).String(),
		}).Info("Re-verification completed")
	}
}
