package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rasesh6/alpaca-trading/config"
	"github.com/rasesh6/alpaca-trading/internal/adapters/alpaca"
	"github.com/rasesh6/alpaca-trading/internal/adapters/logger"
	"github.com/rasesh6/alpaca-trading/internal/adapters/sqlite"
	"github.com/rasesh6/alpaca-trading/internal/engine"
	"github.com/rasesh6/alpaca-trading/internal/events"
	"github.com/rasesh6/alpaca-trading/internal/server"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Brokerage Client
	brokerClient, err := alpaca.New(alpaca.Config{
		RESTBase:             cfg.RESTBase,
		StreamURL:            cfg.StreamURL,
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		Logger:               appLogger,
		ReconnectMinDelay:    cfg.ReconnectMinDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize brokerage client")
		log.Fatalf("FATAL: Failed to initialize brokerage client: %v", err)
	}
	appLogger.Info(context.Background(), "Brokerage client initialized", map[string]interface{}{"paper": cfg.UsePaper})

	// 5. Initialize Event Hub and Engine
	hub := events.NewHub()
	eng, err := engine.New(engine.Config{
		PollInterval:          cfg.PollInterval,
		PriceTick:             cfg.PriceTick,
		DefaultFillTimeout:    cfg.DefaultFillTimeout,
		DefaultTriggerTimeout: cfg.DefaultTriggerTimeout,
	}, brokerClient, repo, hub, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize orchestration engine")
		log.Fatalf("FATAL: Failed to initialize orchestration engine: %v", err)
	}

	// 6. Start the Engine (reconciliation + trade update stream)
	if err := eng.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to start orchestration engine")
		log.Fatalf("FATAL: Failed to start orchestration engine: %v", err)
	}
	appLogger.Info(context.Background(), "Orchestration engine started")

	// 7. Start the HTTP Server
	srv, err := server.New(server.Config{ListenAddr: cfg.ListenAddr}, eng, hub, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize HTTP server")
		log.Fatalf("FATAL: Failed to initialize HTTP server: %v", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run()
	}()

	// 8. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		appLogger.Info(context.Background(), "Shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil {
			appLogger.Error(context.Background(), err, "HTTP server exited with error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "HTTP server shutdown failed")
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "Engine shutdown failed")
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
