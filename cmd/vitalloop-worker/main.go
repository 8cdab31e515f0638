package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/config"
	"github.com/vitalloop/vitalloop-worker/internal/crypto"
	"github.com/vitalloop/vitalloop-worker/internal/database"
	"github.com/vitalloop/vitalloop-worker/internal/provider"
	"github.com/vitalloop/vitalloop-worker/internal/repository"
	"github.com/vitalloop/vitalloop-worker/internal/service"
	"github.com/vitalloop/vitalloop-worker/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(db)

	log.Println("Database connected successfully")

	// Run migrations
	log.Println("Running database migrations...")
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return err
	}
	log.Println("Migrations completed successfully")

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db)
	metricRepo := repository.NewMetricRepository(sqlDB)
	syncJobRepo := repository.NewSyncJobRepository(db)
	refreshJobRepo := repository.NewTokenRefreshJobRepository(db)
	webhookJobRepo := repository.NewWebhookJobRepository(db)
	healthRepo := repository.NewDeviceHealthRepository(db)
	alertRepo := repository.NewAlertRepository(db)

	// Initialize provider drivers
	registry := provider.NewRegistry(cfg)
	log.Printf("Registered providers: %v", registry.Implemented())

	// Initialize services
	vault, err := crypto.NewVault(cfg.TokenEncryptionKey)
	if err != nil {
		return err
	}
	tokenService := service.NewTokenService(vault, registry, accountRepo, refreshJobRepo, syncJobRepo, cfg.ExpiryHorizon)
	syncProcessor := service.NewSyncProcessor(accountRepo, metricRepo, registry, tokenService)
	healthEvaluator := service.NewDeviceHealthEvaluator(metricRepo, healthRepo, alertRepo, cfg, cfg.StalenessThreshold, cfg.CompletenessFloor)
	webhookProcessor := service.NewWebhookProcessor(accountRepo, metricRepo, syncJobRepo, healthEvaluator)

	// Initialize watcher
	w := watcher.New(cfg, syncJobRepo, refreshJobRepo, webhookJobRepo, syncProcessor, webhookProcessor, tokenService)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start watcher in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		log.Println("Shutdown signal received")
		cancel()

		// Wait for graceful shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		select {
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded")
		case err := <-errChan:
			if err != nil && err != context.Canceled {
				log.Printf("Watcher error: %v", err)
			}
		}

		log.Println("Application stopped")
		return nil

	case err := <-errChan:
		return err
	}
}
