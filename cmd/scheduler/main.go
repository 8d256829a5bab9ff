/**
 * @description
 * Entry point for the incorporation scheduler. This is a non-HTTP, long-running
 * process that triggers periodic sweeps on the API through its internal endpoints.
 */
package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/scg/incorporation-service/internal/config"
	"github.com/scg/incorporation-service/internal/scheduler"
	"github.com/scg/incorporation-service/pkg/incorporationclient"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadSchedulerConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	client := incorporationclient.NewClient(cfg.IncorporationServiceURL, cfg.InternalAPIKey)
	jobs := scheduler.NewJobs(client, logger)
	cron := scheduler.NewScheduler(jobs, logger, *cfg)

	if err := cron.Start(); err != nil {
		os.Exit(1)
	}
	logger.Info("scheduler started", "target", cfg.IncorporationServiceURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	<-cron.Stop().Done()
	logger.Info("scheduler stopped gracefully")
}
