// Package di provides dependency injection wiring and initialization.
package di

import (
	"context"
	"fmt"

	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/scheduler"
	"github.com/aristath/arena/internal/telemetry"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize telemetry
// 2. Initialize databases
// 3. Initialize services
// 4. Register jobs
func Wire(ctx context.Context, cfg *config.Config, version string, sched *scheduler.Scheduler, log zerolog.Logger) (*Container, *JobInstances, error) {
	shutdown, err := telemetry.Init(ctx, cfg.OTEL.Endpoint, cfg.OTEL.ServiceName, version, cfg.OTEL.Insecure)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		_ = shutdown(ctx)
		return nil, nil, fmt.Errorf("failed to initialize databases: %w", err)
	}
	container.ShutdownTelemetry = shutdown

	if err := InitializeServices(ctx, container, cfg, log); err != nil {
		container.Close()
		_ = shutdown(ctx)
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	jobs, err := RegisterJobs(ctx, container, sched, cfg, version, log)
	if err != nil {
		container.Close()
		_ = shutdown(ctx)
		return nil, nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, jobs, nil
}
