package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ARENA_DATA_DIR", t.TempDir())
	t.Setenv("ARENA_NETWORK", "")
	t.Setenv("ARENA_CHAIN_ID", "")
	t.Setenv("STORAGE_BACKEND", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "testnet", cfg.Network)
	assert.Equal(t, TestnetChainID, cfg.ChainID)
	assert.Equal(t, StorageBackendLocal, cfg.Storage.Backend)
	assert.Equal(t, 90*time.Second, cfg.Saga.InferenceTimeout)
	assert.Contains(t, cfg.ChainDBPath(), "chain.db")
}

func TestLoad_MainnetChainID(t *testing.T) {
	t.Setenv("ARENA_DATA_DIR", t.TempDir())
	t.Setenv("ARENA_NETWORK", "mainnet")
	t.Setenv("ARENA_CHAIN_ID", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, MainnetChainID, cfg.ChainID)
}

func TestLoad_DurationOverride(t *testing.T) {
	t.Setenv("ARENA_DATA_DIR", t.TempDir())
	t.Setenv("SAGA_UPLOAD_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Saga.UploadTimeout)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:    8080,
			Network: "testnet",
			ChainID: TestnetChainID,
			Storage: StorageConfig{Backend: StorageBackendLocal},
			Saga: SagaConfig{
				ConnectTimeout:   time.Second,
				InferenceTimeout: time.Second,
				UploadTimeout:    time.Second,
				SubmitTimeout:    time.Second,
				ConfirmTimeout:   time.Second,
				VerifyTimeout:    time.Second,
			},
		}
	}

	assert.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Storage.Backend = StorageBackendS3
	assert.Error(t, cfg.Validate(), "s3 backend requires a bucket")

	cfg = valid()
	cfg.Network = "devnet"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Saga.VerifyTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestBackupsEnabled(t *testing.T) {
	cfg := &Config{Jobs: JobsConfig{BackupSchedule: "0 30 3 * * *"}}
	assert.False(t, cfg.BackupsEnabled())

	cfg.Storage.S3Bucket = "arena"
	assert.True(t, cfg.BackupsEnabled())

	cfg.Jobs.BackupSchedule = ""
	assert.False(t, cfg.BackupsEnabled())
}
