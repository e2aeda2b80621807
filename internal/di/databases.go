package di

import (
	"fmt"

	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the chain and storage databases and applies schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// chain.db - Dev chain ledger, one writer
	chainDB, err := database.New(database.Config{
		Path:    cfg.ChainDBPath(),
		Profile: database.ProfileLedger,
		Name:    database.NameChain,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chain database: %w", err)
	}
	container.ChainDB = chainDB

	// storage.db - Local storage node, only with the local backend
	if cfg.Storage.Backend == config.StorageBackendLocal {
		storageDB, err := database.New(database.Config{
			Path:    cfg.StorageDBPath(),
			Profile: database.ProfileStandard,
			Name:    database.NameStorage,
		})
		if err != nil {
			chainDB.Close()
			return nil, fmt.Errorf("failed to initialize storage database: %w", err)
		}
		container.StorageDB = storageDB
	}

	for _, db := range container.Databases() {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().Int("count", len(container.Databases())).Msg("Databases initialized and schemas applied")

	return container, nil
}
