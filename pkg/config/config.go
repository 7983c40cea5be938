package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Backends
	SolanaRPCEndpoint  string
	DexScreenerBaseURL string
	JupiterBaseURL     string
	WormholeScanURL    string

	// Storage
	CacheBackend    string // "memory" | "sqlite"
	CacheSQLitePath string
	CacheTTL        time.Duration
	DBPath          string

	// Circuit breakers
	CBFailureThreshold int
	CBRecoveryTimeout  time.Duration
	CBSuccessThreshold int

	// HTTP shell
	HTTPTimeout   time.Duration
	RetryAttempts int
	RetryBaseWait time.Duration

	// SOL flow tracer
	SolTraceMaxHops     int
	MinTransferLamports int64
	SolTraceTimeout     time.Duration
	SolTraceConcurrency int
	MaxTxnPerFlowWallet int

	// Bundle forensics
	BundleTimeout    time.Duration
	MaxLaunchSigs    int
	MaxBundleWallets int
	BundleReportTTL  time.Duration

	// Lineage
	MaxDerivatives     int
	LineageConcurrency int

	// Similarity weights and thresholds
	WeightName     float64
	WeightSymbol   float64
	WeightImage    float64
	WeightDeployer float64
	WeightTemporal float64

	NameSimilarityThreshold   float64
	SymbolSimilarityThreshold float64
	ImageSimilarityThreshold  float64

	// Sweeps
	RugLiquidityThresholdUSD float64
	RugSweepInterval         time.Duration
	CartelSweepInterval      time.Duration
	AlertSweepInterval       time.Duration
	MaintenanceInterval      time.Duration

	// Logging
	LogLevel  string
	LogFormat string // "text" | "json"

	// API
	APIPort int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		SolanaRPCEndpoint:  envOr("SOLANA_RPC_ENDPOINT", "https://api.mainnet-beta.solana.com"),
		DexScreenerBaseURL: envOr("DEXSCREENER_BASE_URL", "https://api.dexscreener.com"),
		JupiterBaseURL:     envOr("JUPITER_BASE_URL", "https://api.jup.ag"),
		WormholeScanURL:    envOr("WORMHOLESCAN_BASE_URL", "https://api.wormholescan.io"),

		CacheBackend:    envOr("CACHE_BACKEND", "sqlite"),
		CacheSQLitePath: envOr("CACHE_SQLITE_PATH", "rug_tracer.db"),
		CacheTTL:        envDuration("CACHE_TTL_SECONDS", 3600),
		DBPath:          envOr("DB_PATH", "rug_tracer.db"),

		CBFailureThreshold: envInt("CB_FAILURE_THRESHOLD", 5),
		CBRecoveryTimeout:  envDuration("CB_RECOVERY_TIMEOUT", 30),
		CBSuccessThreshold: envInt("CB_SUCCESS_THRESHOLD", 2),

		HTTPTimeout:   envDuration("HTTP_TIMEOUT_SECONDS", 30),
		RetryAttempts: envInt("HTTP_RETRY_ATTEMPTS", 3),
		RetryBaseWait: time.Duration(envInt("HTTP_RETRY_BASE_MS", 500)) * time.Millisecond,

		SolTraceMaxHops:     envInt("SOL_TRACE_MAX_HOPS", 3),
		MinTransferLamports: int64(envInt("MIN_TRANSFER_LAMPORTS", 100_000_000)),
		SolTraceTimeout:     envDuration("SOL_TRACE_TIMEOUT_SECONDS", 20),
		SolTraceConcurrency: envInt("SOL_TRACE_CONCURRENCY", 3),
		MaxTxnPerFlowWallet: envInt("SOL_TRACE_MAX_TXN_PER_WALLET", 50),

		BundleTimeout:    envDuration("BUNDLE_TIMEOUT_SECONDS", 45),
		MaxLaunchSigs:    envInt("BUNDLE_MAX_LAUNCH_SIGS", 50),
		MaxBundleWallets: envInt("BUNDLE_MAX_WALLETS", 20),
		BundleReportTTL:  envDuration("BUNDLE_REPORT_TTL_SECONDS", 86400),

		MaxDerivatives:     envInt("MAX_DERIVATIVES", 10),
		LineageConcurrency: envInt("LINEAGE_CONCURRENCY", 5),

		WeightName:     envFloat("WEIGHT_NAME", 0.25),
		WeightSymbol:   envFloat("WEIGHT_SYMBOL", 0.15),
		WeightImage:    envFloat("WEIGHT_IMAGE", 0.25),
		WeightDeployer: envFloat("WEIGHT_DEPLOYER", 0.20),
		WeightTemporal: envFloat("WEIGHT_TEMPORAL", 0.15),

		NameSimilarityThreshold:   envFloat("NAME_SIMILARITY_THRESHOLD", 0.55),
		SymbolSimilarityThreshold: envFloat("SYMBOL_SIMILARITY_THRESHOLD", 0.70),
		ImageSimilarityThreshold:  envFloat("IMAGE_SIMILARITY_THRESHOLD", 0.72),

		RugLiquidityThresholdUSD: envFloat("RUG_LIQUIDITY_THRESHOLD_USD", 100),
		RugSweepInterval:         envDuration("RUG_SWEEP_INTERVAL_SECONDS", 900),
		CartelSweepInterval:      envDuration("CARTEL_SWEEP_INTERVAL_SECONDS", 3600),
		AlertSweepInterval:       envDuration("ALERT_SWEEP_INTERVAL_SECONDS", 300),
		MaintenanceInterval:      envDuration("DB_MAINTENANCE_INTERVAL_SECONDS", 21600),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "text"),

		APIPort: envInt("API_PORT", 8080),
	}

	return cfg, nil
}

// helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallbackSeconds int) time.Duration {
	return time.Duration(envInt(key, fallbackSeconds)) * time.Second
}

// SplitTrim parses a comma list from the environment.
func SplitTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
