package di

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/aristath/arena/internal/chain/devchain"
	"github.com/aristath/arena/internal/clients/arena"
	"github.com/aristath/arena/internal/clients/compute"
	"github.com/aristath/arena/internal/clients/storage"
	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/saga"
	"github.com/aristath/arena/internal/session"
	"github.com/rs/zerolog"
)

// InitializeServices builds the chain, storage backend, event system and session manager
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.ChainDB == nil {
		return fmt.Errorf("container must hold an open chain database")
	}

	container.EventBus = events.NewBus()
	container.EventManager = events.NewManager(container.EventBus, log)

	container.Chain = devchain.New(container.ChainDB.Conn(), devchain.Options{
		ChainID:           cfg.ChainID,
		SettleAfterBlocks: uint64(cfg.Chain.SettleAfterBlocks),
	}, log)

	backend, err := newStorageBackend(ctx, container, cfg, log)
	if err != nil {
		return err
	}
	container.StoreBackend = backend

	faucet, err := faucetAmount(cfg.Chain.FaucetAmount)
	if err != nil {
		return err
	}

	container.Sessions = session.NewManager(container.Chain, backend, container.Chain, container.EventManager, session.Options{
		Providers: providersFromConfig(cfg.Compute),
		Compute: compute.ClientOptions{
			RateLimit:   cfg.Compute.RateLimit,
			Burst:       cfg.Compute.RateBurst,
			ProviderTTL: cfg.Compute.ProviderTTL,
		},
		Arena: arena.Options{
			PollInterval:    cfg.Chain.BlockInterval / 2,
			MaxPollInterval: 4 * cfg.Chain.BlockInterval,
		},
		Timeouts:      saga.TimeoutsFromConfig(cfg.Saga),
		FaucetAmount:  faucet,
		TrackerMaxAge: 24 * time.Hour,
	}, log)

	log.Info().
		Uint64("chain_id", cfg.ChainID).
		Str("storage", cfg.Storage.Backend).
		Msg("Services initialized")
	return nil
}

func newStorageBackend(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) (storage.Backend, error) {
	if cfg.Storage.Backend == config.StorageBackendS3 {
		backend, err := storage.NewS3Backend(ctx, storage.S3Config{
			Bucket:    cfg.Storage.S3Bucket,
			Region:    cfg.Storage.S3Region,
			Endpoint:  cfg.Storage.S3Endpoint,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			Prefix:    cfg.Storage.S3Prefix,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 storage backend: %w", err)
		}
		return backend, nil
	}
	if container.StorageDB == nil {
		return nil, fmt.Errorf("local storage backend requires the storage database")
	}
	return storage.NewNodeRepository(container.StorageDB.Conn(), log), nil
}

// providersFromConfig returns the configured provider, or none when no endpoint is set
func providersFromConfig(c config.ComputeConfig) []compute.ProviderConfig {
	if c.Endpoint == "" {
		return nil
	}
	return []compute.ProviderConfig{{
		Address:        c.ProviderAddress,
		Name:           c.ProviderName,
		Model:          c.Model,
		Endpoint:       c.Endpoint,
		APIKey:         c.APIKey,
		AttestationKey: c.AttestationKey,
	}}
}

// faucetAmount parses the dev faucet in native units; "0" or empty disables funding
func faucetAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	amount, err := domain.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("invalid ARENA_DEV_FAUCET: %w", err)
	}
	if !amount.IsPositive() {
		return nil, nil
	}
	return domain.ToWei(amount), nil
}
