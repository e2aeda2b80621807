// Package main is the entry point for the Trading Arena backend.
//
// It runs the development chain, serves the REST, SSE and websocket API used by
// the arena UI, and drives strategy runs for the connected wallet session.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/di"
	"github.com/aristath/arena/internal/scheduler"
	"github.com/aristath/arena/internal/server"
	"github.com/aristath/arena/internal/wallet"
	"github.com/aristath/arena/pkg/logger"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	version := getEnv("VERSION", "dev")

	log.Info().
		Str("version", version).
		Str("network", cfg.Network).
		Uint64("chain_id", cfg.ChainID).
		Msg("Starting Trading Arena")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(log)
	container, _, err := di.Wire(ctx, cfg, version, sched, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Block production runs until shutdown
	chainDone := make(chan struct{})
	go func() {
		defer close(chainDone)
		container.Chain.Run(ctx, cfg.Chain.BlockInterval)
	}()

	// The configured dev signer is connected at startup so the API is usable
	// without a connect call; the UI may replace it with another seed.
	if cfg.Chain.SignerSeed != "" {
		signer := wallet.NewDevSigner(cfg.Chain.SignerSeed, cfg.ChainID)
		if _, err := container.Sessions.Connect(ctx, signer); err != nil {
			log.Warn().Err(err).Msg("Failed to connect dev signer")
		}
	}

	srv := server.New(server.Config{
		Log:             log,
		Port:            cfg.Port,
		DevMode:         cfg.DevMode,
		Version:         version,
		ChainID:         cfg.ChainID,
		StreamInference: cfg.Saga.StreamInference,
		Sessions:        container.Sessions,
		Events:          container.EventManager,
		Databases:       container.Databases(),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	sched.Stop()

	// Closing the session cancels an active run
	container.Sessions.Disconnect()

	cancel()
	<-chainDone

	if err := container.ShutdownTelemetry(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush telemetry")
	}

	log.Info().Msg("Server stopped")
}
