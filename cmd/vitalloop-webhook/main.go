package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitalloop/vitalloop-worker/internal/config"
	"github.com/vitalloop/vitalloop-worker/internal/crypto"
	"github.com/vitalloop/vitalloop-worker/internal/database"
	"github.com/vitalloop/vitalloop-worker/internal/provider"
	"github.com/vitalloop/vitalloop-worker/internal/repository"
	"github.com/vitalloop/vitalloop-worker/internal/server"
	"github.com/vitalloop/vitalloop-worker/internal/service"
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
	syncJobRepo := repository.NewSyncJobRepository(db)
	refreshJobRepo := repository.NewTokenRefreshJobRepository(db)
	webhookJobRepo := repository.NewWebhookJobRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(sqlDB)

	// Initialize provider drivers
	registry := provider.NewRegistry(cfg)
	log.Printf("Registered providers: %v", registry.Implemented())

	// Initialize services
	vault, err := crypto.NewVault(cfg.TokenEncryptionKey)
	if err != nil {
		return err
	}
	tokenService := service.NewTokenService(vault, registry, accountRepo, refreshJobRepo, syncJobRepo, cfg.ExpiryHorizon)

	srv := server.New(cfg, registry, tokenService, webhookEventRepo, webhookJobRepo)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Router(),
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start HTTP server in goroutine
	errChan := make(chan error, 1)
	go func() {
		log.Printf("Webhook server listening on %s", cfg.HTTPAddr)
		errChan <- httpServer.ListenAndServe()
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		log.Println("Shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}

		log.Println("Application stopped")
		return nil

	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
