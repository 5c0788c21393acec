package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
)

// Config holds the configuration for the token runner
type Config struct {
	Network        string
	RPCURL         string
	VerifyRPCURL   string
	RPCRateLimit   float64
	RPCBurst       int
	PollInterval   time.Duration
	Autofill       AutofillConfig
	Batch          BatchConfig
	Store          StoreConfig
	Signer         SignerConfig
	MetricsPort    string
	MetricsAPIKey  string
	CircuitBreaker CircuitBreakerConfig
	LoggerConfig   LoggerConfig
}

// AutofillConfig holds fee and expiry policy values
type AutofillConfig struct {
	FeeCushion      float64
	MaxFeeDrops     int64
	MaxLedgerOffset uint32
}

// BatchConfig holds pacing and reconciliation window values
type BatchConfig struct {
	ThrottleMs     int
	TxsBeforeSleep int
	SleepMs        int
	SafetyOffset   uint32
	SafetyMargin   uint32
}

// StoreConfig selects and configures the document store
type StoreConfig struct {
	Backend     string
	Dir         string
	RedisURL    string
	PostgresURL string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
}

// SignerConfig selects and configures the signing backend
type SignerConfig struct {
	Kind            string
	SeedFile        string
	SeedPassword    string
	SeedPIN         string
	MobileAPIURL    string
	MobileAPIKey    string
	MobileAPISecret string
	MobileUserToken string
	MobileAccount   string
	HardwareURL     string
	CodecURL        string
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
	Format   string
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	return loadFromEnv()
}

func loadFromEnv() (*Config, error) {
	network, err := GetEnvNetwork()
	if err != nil {
		return nil, err
	}

	rpcURL := GetEnvRPCURL(network)
	verifyRPCURL := os.Getenv("VERIFY_RPC_URL")
	if verifyRPCURL == "" {
		verifyRPCURL = rpcURL
	}

	rateLimit, err := GetEnvRPCRateLimit()
	if err != nil {
		return nil, err
	}

	burst, err := GetEnvRPCBurst()
	if err != nil {
		return nil, err
	}

	pollInterval, err := GetEnvPollInterval()
	if err != nil {
		return nil, err
	}

	feeCushion, err := GetEnvFeeCushion()
	if err != nil {
		return nil, err
	}

	maxFee, err := GetEnvMaxFeeDrops()
	if err != nil {
		return nil, err
	}

	ledgerOffset, err := GetEnvUint32("MAX_LEDGER_OFFSET", DefaultMaxLedgerOffset)
	if err != nil {
		return nil, err
	}

	throttleMs, err := GetEnvNonNegativeInt("THROTTLE_MS", DefaultThrottleMs)
	if err != nil {
		return nil, err
	}

	txsBeforeSleep, err := GetEnvNonNegativeInt("TXS_BEFORE_SLEEP", DefaultTxsBeforeSleep)
	if err != nil {
		return nil, err
	}

	sleepMs, err := GetEnvNonNegativeInt("SLEEP_MS", DefaultSleepMs)
	if err != nil {
		return nil, err
	}

	safetyOffset, err := GetEnvUint32("SAFETY_OFFSET", DefaultSafetyOffset)
	if err != nil {
		return nil, err
	}

	safetyMargin, err := GetEnvUint32("SAFETY_MARGIN", DefaultSafetyMargin)
	if err != nil {
		return nil, err
	}

	storeBackend, err := GetEnvStoreBackend()
	if err != nil {
		return nil, err
	}

	s3UseSSL, err := GetEnvBool("S3_USE_SSL", true)
	if err != nil {
		return nil, err
	}

	signerKind, err := GetEnvSigner()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvMinutes("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvMinutes("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvBool("LOG_COLORING", DefaultLogColoring)
	if err != nil {
		return nil, err
	}

	logFormat, err := GetEnvLogFormat()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Network:      network,
		RPCURL:       rpcURL,
		VerifyRPCURL: verifyRPCURL,
		RPCRateLimit: rateLimit,
		RPCBurst:     burst,
		PollInterval: pollInterval,
		Autofill: AutofillConfig{
			FeeCushion:      feeCushion,
			MaxFeeDrops:     maxFee,
			MaxLedgerOffset: ledgerOffset,
		},
		Batch: BatchConfig{
			ThrottleMs:     throttleMs,
			TxsBeforeSleep: txsBeforeSleep,
			SleepMs:        sleepMs,
			SafetyOffset:   safetyOffset,
			SafetyMargin:   safetyMargin,
		},
		Store: StoreConfig{
			Backend:     storeBackend,
			Dir:         getEnvDefault("STORE_DIR", DefaultStoreDir),
			RedisURL:    os.Getenv("REDIS_URL"),
			PostgresURL: os.Getenv("POSTGRES_URL"),
			S3Endpoint:  os.Getenv("S3_ENDPOINT"),
			S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
			S3SecretKey: os.Getenv("S3_SECRET_KEY"),
			S3Bucket:    getEnvDefault("S3_BUCKET", DefaultS3Bucket),
			S3UseSSL:    s3UseSSL,
		},
		Signer: SignerConfig{
			Kind:            signerKind,
			SeedFile:        os.Getenv("SEED_FILE"),
			SeedPassword:    os.Getenv("SEED_PASSWORD"),
			SeedPIN:         os.Getenv("SEED_PIN"),
			MobileAPIURL:    getEnvDefault("MOBILE_API_URL", DefaultMobileAPIURL),
			MobileAPIKey:    os.Getenv("MOBILE_API_KEY"),
			MobileAPISecret: os.Getenv("MOBILE_API_SECRET"),
			MobileUserToken: os.Getenv("MOBILE_USER_TOKEN"),
			MobileAccount:   os.Getenv("MOBILE_ACCOUNT"),
			HardwareURL:     getEnvDefault("HARDWARE_BRIDGE_URL", DefaultHardwareBridgeURL),
			CodecURL:        os.Getenv("CODEC_URL"),
		},
		MetricsPort:   metricsPort,
		MetricsAPIKey: os.Getenv("METRICS_API_KEY"),
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
			Format:   logFormat,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("RPC_URL environment variable is required for network %s", cfg.Network)
	}

	switch cfg.Signer.Kind {
	case SignerSeed:
		if cfg.Signer.SeedFile == "" {
			return fmt.Errorf("SEED_FILE environment variable is required when SIGNER=%s", SignerSeed)
		}
	case SignerMobile:
		if cfg.Signer.MobileAPIKey == "" || cfg.Signer.MobileAPISecret == "" {
			return fmt.Errorf("MOBILE_API_KEY and MOBILE_API_SECRET are required when SIGNER=%s", SignerMobile)
		}
		if cfg.Signer.MobileAccount == "" {
			return fmt.Errorf("MOBILE_ACCOUNT environment variable is required when SIGNER=%s", SignerMobile)
		}
	}

	if cfg.Signer.Kind != SignerMobile && cfg.Signer.CodecURL == "" {
		return fmt.Errorf("CODEC_URL environment variable is required when SIGNER=%s", cfg.Signer.Kind)
	}

	switch cfg.Store.Backend {
	case StoreRedis:
		if cfg.Store.RedisURL == "" {
			return fmt.Errorf("REDIS_URL environment variable is required when STORE_BACKEND=%s", StoreRedis)
		}
	case StorePostgres:
		if cfg.Store.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL environment variable is required when STORE_BACKEND=%s", StorePostgres)
		}
	case StoreS3:
		if cfg.Store.S3Endpoint == "" || cfg.Store.S3AccessKey == "" || cfg.Store.S3SecretKey == "" {
			return fmt.Errorf("S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY are required when STORE_BACKEND=%s", StoreS3)
		}
	}
	return nil
}
