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

	"github.com/joho/godotenv"
	"github.com/medrex/scheduling-engine/internal/scheduling"
	"github.com/medrex/scheduling-engine/pkg/config"
	"github.com/medrex/scheduling-engine/pkg/database"
	"github.com/medrex/scheduling-engine/pkg/interfaces"
	"github.com/medrex/scheduling-engine/pkg/logger"
	"github.com/medrex/scheduling-engine/pkg/monitoring"
	"github.com/medrex/scheduling-engine/pkg/notify"
	"github.com/medrex/scheduling-engine/pkg/repository"
)

func main() {
	// A local .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring unreadable .env file: %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel)
	ctx := context.Background()

	// Initialize tracing
	tracing, err := monitoring.NewTracingManager(ctx, &monitoring.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    os.Getenv("ENVIRONMENT"),
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}

	// Initialize record store
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}

	if cfg.Database.SeedFile != "" {
		seed, err := repository.LoadSeed(cfg.Database.SeedFile)
		if err != nil {
			logger.Fatalf("Failed to load seed: %v", err)
		}
		inserted, err := repository.ApplySeed(ctx, store, seed, time.Now())
		if err != nil {
			logger.Fatalf("Failed to apply seed: %v", err)
		}
		logger.Infof("Seeded %d records from %s", inserted, cfg.Database.SeedFile)
	}

	opts := []scheduling.Option{scheduling.WithTracing(tracing)}

	// Notification fan-out is optional
	if cfg.Redis.Host != "" {
		publisher, err := notify.NewRedisPublisher(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize notification publisher: %v", err)
		}
		opts = append(opts, scheduling.WithPublisher(publisher))
	}

	// Initialize Scheduling Service
	service, err := scheduling.New(cfg, logger, store, opts...)
	if err != nil {
		logger.Fatalf("Failed to initialize Scheduling Service: %v", err)
	}

	// Start service in a goroutine
	go func() {
		if err := service.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start Scheduling Service: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Scheduling Service...")
	if err := service.Stop(); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error flushing traces: %v", err)
	}
	if err := closeStore(); err != nil {
		logger.Errorf("Error closing store: %v", err)
	}
	logger.Info("Scheduling Service stopped")
}

// openStore builds the configured record store and its close function
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (interfaces.Store, func() error, error) {
	if cfg.Database.Driver != config.DriverPostgres {
		log.Info("Using in-memory record store")
		return repository.NewMemoryStore(), func() error { return nil }, nil
	}

	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.CreateSchema {
		if err := db.CreateSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return repository.NewPostgresStore(db, log), db.Close, nil
}
