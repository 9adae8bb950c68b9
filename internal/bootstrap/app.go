// Package bootstrap handles application initialization and lifecycle management
// for the export service.
package bootstrap

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/infrastructure/profiling"
)

// Start initializes and runs the export service until it receives a shutdown signal.
func Start() error {
	// Phase 1: Load config and create logger
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := CreateLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// Phase 2: Start profiling (if enabled)
	profiler, profErr := profiling.Start(cfg.Profiling, cfg.Service.Name, cfg.Service.Version, log)
	if profErr != nil {
		log.Warn("Profiling unavailable", infralogger.Error(profErr))
	}
	defer func() { _ = profiler.Stop() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Phase 3: Connect to Redis and the data stores
	redisClient, err := SetupRedis(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	stores, err := SetupStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to data stores: %w", err)
	}
	defer stores.Close(log)

	// Phase 4: Build the export components
	comp := SetupComponents(cfg, redisClient, stores, log)

	// Phase 5: Start the job workers
	workers := StartWorkers(ctx, cfg, comp, log)
	defer workers.Stop()

	// Phase 6: Run the HTTP server
	server := SetupHTTPServer(cfg, comp, redisClient, stores, log)
	if runErr := server.Run(ctx); runErr != nil {
		log.Error("Server error", infralogger.Error(runErr))
		return fmt.Errorf("server error: %w", runErr)
	}

	log.Info("Server exited")
	return nil
}
