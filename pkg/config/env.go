package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/speedrun-hq/tokenrunner/pkg/logger"
)

const (
	// DefaultNetwork is the default ledger network to connect to
	DefaultNetwork = Testnet

	// DefaultPollInterval defines the verification poll interval in seconds
	DefaultPollInterval = 2

	// DefaultRPCRateLimit defines the default requests per second against the ledger server, 0 disables limiting
	DefaultRPCRateLimit = 0

	// DefaultRPCBurst defines the token bucket burst for the rate limiter
	DefaultRPCBurst = 1

	// DefaultFeeCushion multiplies the network fee to absorb load swings
	DefaultFeeCushion = 1.2

	// DefaultMaxFeeDrops caps the autofilled fee
	DefaultMaxFeeDrops = 2000000

	// UnboundedFee disables the fee cap when set as MAX_FEE_DROPS
	UnboundedFee = -1

	// DefaultMaxLedgerOffset defines how many ledgers a transaction stays valid
	DefaultMaxLedgerOffset = 20

	DefaultThrottleMs     = 0
	DefaultTxsBeforeSleep = 0
	DefaultSleepMs        = 0

	// DefaultSafetyOffset defines how many ledgers must close after a run before verification
	DefaultSafetyOffset = 10

	// DefaultSafetyMargin widens the history window before the run start
	DefaultSafetyMargin = 10

	// DefaultStoreDir defines the directory of the file store
	DefaultStoreDir = "./data"

	DefaultS3Bucket = "tokenrunner"

	// DefaultMobileAPIURL defines the default push wallet API endpoint
	DefaultMobileAPIURL = "https://xumm.app/api/v1"

	// DefaultHardwareBridgeURL defines the default local hardware wallet bridge
	DefaultHardwareBridgeURL = "http://127.0.0.1:21325"

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker in minutes
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker in minutes
	DefaultCircuitBreakerReset = 15

	DefaultLogColoring = true
	DefaultLogFormat   = LogFormatStd
)

const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreS3       = "s3"

	SignerSeed     = "seed"
	SignerHardware = "hardware"
	SignerMobile   = "mobile"

	LogFormatStd = "std"
	LogFormatZap = "zap"
)

// GetEnvNetwork returns the configured network from environment variables or defaults to testnet
func GetEnvNetwork() (string, error) {
	network := os.Getenv("NETWORK")
	if network == "" {
		return DefaultNetwork, nil
	}

	if _, ok := networkRPCURLs[network]; !ok {
		return "", fmt.Errorf("invalid NETWORK value: %s, must be one of mainnet, testnet, devnet, xahau", network)
	}
	return network, nil
}

// GetEnvRPCURL returns the ledger RPC endpoint, falling back to the network's public server
func GetEnvRPCURL(network string) string {
	if rpcURL := os.Getenv("RPC_URL"); rpcURL != "" {
		return rpcURL
	}
	return networkRPCURLs[network]
}

// GetEnvRPCRateLimit returns the requests per second limit for ledger RPC calls
func GetEnvRPCRateLimit() (float64, error) {
	value := os.Getenv("RPC_RATE_LIMIT")
	if value == "" {
		return DefaultRPCRateLimit, nil
	}

	limit, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid RPC_RATE_LIMIT value: %s, must be a number", value)
	}
	if limit < 0 {
		return 0, fmt.Errorf("RPC_RATE_LIMIT must not be negative")
	}
	return limit, nil
}

// GetEnvRPCBurst returns the rate limiter burst size
func GetEnvRPCBurst() (int, error) {
	value := os.Getenv("RPC_BURST")
	if value == "" {
		return DefaultRPCBurst, nil
	}

	burst, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid RPC_BURST value: %s, must be an integer", value)
	}
	if burst <= 0 {
		return 0, fmt.Errorf("RPC_BURST must be greater than 0")
	}
	return burst, nil
}

// GetEnvPollInterval returns the verification poll interval in seconds from environment variables
func GetEnvPollInterval() (time.Duration, error) {
	value := os.Getenv("POLL_INTERVAL")
	if value == "" {
		return time.Duration(DefaultPollInterval) * time.Second, nil
	}

	interval, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid POLL_INTERVAL value: %s, must be an integer", value)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("POLL_INTERVAL must be greater than 0")
	}
	return time.Duration(interval) * time.Second, nil
}

// GetEnvFeeCushion returns the fee multiplier
func GetEnvFeeCushion() (float64, error) {
	value := os.Getenv("FEE_CUSHION")
	if value == "" {
		return DefaultFeeCushion, nil
	}

	cushion, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid FEE_CUSHION value: %s, must be a number", value)
	}
	if cushion < 1 {
		return 0, fmt.Errorf("FEE_CUSHION must be at least 1")
	}
	return cushion, nil
}

// GetEnvMaxFeeDrops returns the fee cap in drops, UnboundedFee disables it
func GetEnvMaxFeeDrops() (int64, error) {
	value := os.Getenv("MAX_FEE_DROPS")
	if value == "" {
		return DefaultMaxFeeDrops, nil
	}

	maxFee, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_FEE_DROPS value: %s, must be an integer", value)
	}
	if maxFee != UnboundedFee && maxFee <= 0 {
		return 0, fmt.Errorf("MAX_FEE_DROPS must be greater than 0 or %d for unbounded", UnboundedFee)
	}
	return maxFee, nil
}

// GetEnvUint32 reads a ledger count
func GetEnvUint32(key string, def uint32) (uint32, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a non-negative integer", key, value)
	}
	return uint32(n), nil
}

// GetEnvNonNegativeInt reads an integer that must not be negative
func GetEnvNonNegativeInt(key string, def int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return n, nil
}

// GetEnvBool reads 'true' or 'false'
func GetEnvBool(key string, def bool) (bool, error) {
	value := os.Getenv(key)
	switch value {
	case "":
		return def, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", key, value)
}

// GetEnvMinutes reads a duration expressed in minutes
func GetEnvMinutes(key string, def int) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return time.Duration(def) * time.Minute, nil
	}

	minutes, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, value)
	}
	if minutes <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return time.Duration(minutes) * time.Minute, nil
}

// GetEnvStoreBackend returns the document store backend
func GetEnvStoreBackend() (string, error) {
	backend := os.Getenv("STORE_BACKEND")
	switch backend {
	case "":
		return StoreFile, nil
	case StoreMemory, StoreFile, StoreRedis, StorePostgres, StoreS3:
		return backend, nil
	}
	return "", fmt.Errorf("invalid STORE_BACKEND value: %s, must be one of memory, file, redis, postgres, s3", backend)
}

// GetEnvSigner returns the signing backend kind
func GetEnvSigner() (string, error) {
	kind := os.Getenv("SIGNER")
	switch kind {
	case "":
		return SignerSeed, nil
	case SignerSeed, SignerHardware, SignerMobile:
		return kind, nil
	}
	return "", fmt.Errorf("invalid SIGNER value: %s, must be one of seed, hardware, mobile", kind)
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	value := os.Getenv("LOG_LEVEL")
	if value == "" {
		return logger.InfoLevel, nil
	}

	level, ok := logger.ParseLevel(value)
	if !ok {
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of debug, info, notice, error", value)
	}
	return level, nil
}

// GetEnvLogFormat returns the logger backend
func GetEnvLogFormat() (string, error) {
	format := os.Getenv("LOG_FORMAT")
	switch format {
	case "":
		return DefaultLogFormat, nil
	case LogFormatStd, LogFormatZap:
		return format, nil
	}
	return "", fmt.Errorf("invalid LOG_FORMAT value: %s, must be 'std' or 'zap'", format)
}

func getEnvDefault(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}
