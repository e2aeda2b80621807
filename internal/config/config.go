// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Known chain ids of the arena network
const (
	TestnetChainID uint64 = 16602
	MainnetChainID uint64 = 16661
)

// Storage backends
const (
	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	Network string // testnet or mainnet
	ChainID uint64

	Chain    ChainConfig
	Compute  ComputeConfig
	Storage  StorageConfig
	Saga     SagaConfig
	Jobs     JobsConfig
	OTEL     OTELConfig
	ArenaURL string // Base URL used by arenactl
}

// ChainConfig holds dev chain and signer settings
type ChainConfig struct {
	BlockInterval     time.Duration
	SettleAfterBlocks int    // 0 disables auto settlement
	SignerSeed        string // Seed for the development signer key
	FaucetAmount      string // Native units credited to dev accounts on connect
}

// ComputeConfig describes the configured inference provider
type ComputeConfig struct {
	ProviderAddress string
	ProviderName    string
	Model           string
	Endpoint        string
	APIKey          string
	AttestationKey  string // hex ed25519 public key, empty when the provider is not TEE-backed
	RateLimit       float64
	RateBurst       int
	ProviderTTL     time.Duration
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	Backend     string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string
}

// SagaConfig holds per-step bounds for strategy runs
type SagaConfig struct {
	ConnectTimeout   time.Duration
	InferenceTimeout time.Duration
	UploadTimeout    time.Duration
	SubmitTimeout    time.Duration
	ConfirmTimeout   time.Duration
	VerifyTimeout    time.Duration
	StreamInference  bool
}

// JobsConfig holds cron schedules for background jobs
type JobsConfig struct {
	ReconcileSchedule string
	ProvidersSchedule string
	EventsSchedule    string
	WALSchedule       string
	// Database backups go to the S3 bucket; an empty schedule or bucket disables them
	BackupSchedule      string
	BackupRetentionDays int
}

// OTELConfig configures OpenTelemetry exporters
type OTELConfig struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ARENA_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	network := strings.ToLower(getEnv("ARENA_NETWORK", "testnet"))
	defaultChainID := TestnetChainID
	if network == "mainnet" {
		defaultChainID = MainnetChainID
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("ARENA_PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Network:  network,
		ChainID:  uint64(getEnvAsInt("ARENA_CHAIN_ID", int(defaultChainID))),
		ArenaURL: getEnv("ARENA_URL", "http://localhost:8080"),
		Chain: ChainConfig{
			BlockInterval:     getEnvAsDuration("ARENA_BLOCK_INTERVAL", 2*time.Second),
			SettleAfterBlocks: getEnvAsInt("ARENA_SETTLE_AFTER_BLOCKS", 3),
			SignerSeed:        getEnv("ARENA_DEV_SIGNER_SEED", "arena-dev-signer"),
			FaucetAmount:      getEnv("ARENA_DEV_FAUCET", "1000000"),
		},
		Compute: ComputeConfig{
			ProviderAddress: getEnv("COMPUTE_PROVIDER_ADDRESS", "0xf07240efa67755b5311bc75784a061edb47165dd"),
			ProviderName:    getEnv("COMPUTE_PROVIDER_NAME", "llama-3.3-70b-instruct"),
			Model:           getEnv("COMPUTE_PROVIDER_MODEL", "llama-3.3-70b-instruct"),
			Endpoint:        getEnv("COMPUTE_PROVIDER_ENDPOINT", ""),
			APIKey:          getEnv("COMPUTE_PROVIDER_API_KEY", ""),
			AttestationKey:  getEnv("COMPUTE_PROVIDER_ATTESTATION_KEY", ""),
			RateLimit:       getEnvAsFloat("COMPUTE_RATE_LIMIT", 2),
			RateBurst:       getEnvAsInt("COMPUTE_RATE_BURST", 4),
			ProviderTTL:     getEnvAsDuration("COMPUTE_PROVIDER_TTL", 5*time.Minute),
		},
		Storage: StorageConfig{
			Backend:     strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendLocal)),
			S3Bucket:    getEnv("S3_BUCKET", ""),
			S3Region:    getEnv("S3_REGION", "auto"),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3AccessKey: getEnv("S3_ACCESS_KEY_ID", ""),
			S3SecretKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			S3Prefix:    getEnv("S3_PREFIX", "arena/"),
		},
		Saga: SagaConfig{
			ConnectTimeout:   getEnvAsDuration("SAGA_CONNECT_TIMEOUT", 10*time.Second),
			InferenceTimeout: getEnvAsDuration("SAGA_INFERENCE_TIMEOUT", 90*time.Second),
			UploadTimeout:    getEnvAsDuration("SAGA_UPLOAD_TIMEOUT", 60*time.Second),
			SubmitTimeout:    getEnvAsDuration("SAGA_SUBMIT_TIMEOUT", 2*time.Minute),
			ConfirmTimeout:   getEnvAsDuration("SAGA_CONFIRM_TIMEOUT", 3*time.Minute),
			VerifyTimeout:    getEnvAsDuration("SAGA_VERIFY_TIMEOUT", 30*time.Second),
			StreamInference:  getEnvAsBool("SAGA_STREAM_INFERENCE", true),
		},
		Jobs: JobsConfig{
			ReconcileSchedule:   getEnv("JOB_RECONCILE_SCHEDULE", "*/15 * * * * *"),
			ProvidersSchedule:   getEnv("JOB_PROVIDERS_SCHEDULE", "0 */5 * * * *"),
			EventsSchedule:      getEnv("JOB_EVENTS_SCHEDULE", "*/5 * * * * *"),
			WALSchedule:         getEnv("JOB_WAL_SCHEDULE", "0 0 * * * *"),
			BackupSchedule:      getEnv("JOB_BACKUP_SCHEDULE", "0 30 3 * * *"),
			BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
		OTEL: OTELConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "arena"),
			Insecure:    getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Network != "testnet" && c.Network != "mainnet" {
		return fmt.Errorf("unknown network %q (want testnet or mainnet)", c.Network)
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain id must be set")
	}

	switch c.Storage.Backend {
	case StorageBackendLocal:
	case StorageBackendS3:
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	timeouts := map[string]time.Duration{
		"SAGA_CONNECT_TIMEOUT":   c.Saga.ConnectTimeout,
		"SAGA_INFERENCE_TIMEOUT": c.Saga.InferenceTimeout,
		"SAGA_UPLOAD_TIMEOUT":    c.Saga.UploadTimeout,
		"SAGA_SUBMIT_TIMEOUT":    c.Saga.SubmitTimeout,
		"SAGA_CONFIRM_TIMEOUT":   c.Saga.ConfirmTimeout,
		"SAGA_VERIFY_TIMEOUT":    c.Saga.VerifyTimeout,
	}
	for key, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	return nil
}

// BackupsEnabled reports whether scheduled database backups are configured
func (c *Config) BackupsEnabled() bool {
	return c.Jobs.BackupSchedule != "" && c.Storage.S3Bucket != ""
}

// ChainDBPath returns the dev chain database path
func (c *Config) ChainDBPath() string {
	return filepath.Join(c.DataDir, "chain.db")
}

// StorageDBPath returns the local storage node database path
func (c *Config) StorageDBPath() string {
	return filepath.Join(c.DataDir, "storage.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
