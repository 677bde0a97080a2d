package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies environment variable overrides, and returns the
// final Config. A missing file is not an error so env-only deployments work.
// The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyLegacyEnv(&cfg)
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyLegacyEnv honours the variable names used by the earlier Node services
// so existing deployments keep working. ORACLEBOT_* variables win because
// they are applied afterwards.
func applyLegacyEnv(cfg *Config) {
	setStr(&cfg.Chain.RPCURL, "BSC_TESTNET_RPC_URL")
	setStr(&cfg.Chain.RPCURL, "BSC_RPC_URL")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY")
	setStr(&cfg.Contracts.Dispute, "NEXT_PUBLIC_DISPUTE_ADDRESS")
	setStr(&cfg.Contracts.SubjectiveFactory, "NEXT_PUBLIC_SUBJECTIVE_FACTORY_ADDRESS")
	setStr(&cfg.Contracts.Aggregator, "NEXT_PUBLIC_MARKET_AGGREGATOR_ADDRESS")
	setStr(&cfg.Contracts.Markets, "NEXT_PUBLIC_PREDICTION_MARKET_ADDRESS")
	setStr(&cfg.Database.DSN, "DATABASE_URL")

	setStr(&cfg.DisputeBot.Stake, "DISPUTE_STAKE_ETH")
	setInt(&cfg.DisputeBot.MaxConcurrent, "DISPUTE_MAX_CONCURRENT")
	setMillis(&cfg.DisputeBot.Interval, "DISPUTE_POLL_INTERVAL_MS")
	setMillis(&cfg.Coordinator.Interval, "SUBJECTIVE_ORACLE_INTERVAL_MS")
	setMillis(&cfg.Oracle.Interval, "AI_CHECK_INTERVAL_MS")
	setStr(&cfg.Oracle.SubmitterAddress, "ORACLE_ADDRESS")

	// Per-service keys only apply when that service is the one running.
	switch strings.ToLower(cfg.Mode) {
	case "disputebot":
		setStr(&cfg.Wallet.PrivateKey, "DISPUTE_BOT_PRIVATE_KEY")
	case "coordinator":
		setStr(&cfg.Wallet.PrivateKey, "ORACLE_PRIVATE_KEY")
	}
}

// applyEnvOverrides reads well-known ORACLEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ORACLEBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ORACLEBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ORACLEBOT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "ORACLEBOT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "ORACLEBOT_CHAIN_ID")
	setDuration(&cfg.Chain.ReceiptTimeout, "ORACLEBOT_CHAIN_RECEIPT_TIMEOUT")
	setInt(&cfg.Chain.MaxBlockRange, "ORACLEBOT_CHAIN_MAX_BLOCK_RANGE")
	setInt(&cfg.Chain.FallbackGas, "ORACLEBOT_CHAIN_FALLBACK_GAS")

	// ── Contracts ──
	setStr(&cfg.Contracts.Dispute, "ORACLEBOT_CONTRACTS_DISPUTE")
	setStr(&cfg.Contracts.SubjectiveFactory, "ORACLEBOT_CONTRACTS_SUBJECTIVE_FACTORY")
	setStr(&cfg.Contracts.Aggregator, "ORACLEBOT_CONTRACTS_AGGREGATOR")
	setStr(&cfg.Contracts.Markets, "ORACLEBOT_CONTRACTS_MARKETS")

	// ── Database ──
	setStr(&cfg.Database.Backend, "ORACLEBOT_DATABASE_BACKEND")
	setStr(&cfg.Database.DSN, "ORACLEBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "ORACLEBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "ORACLEBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "ORACLEBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "ORACLEBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "ORACLEBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "ORACLEBOT_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "ORACLEBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "ORACLEBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "ORACLEBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ORACLEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ORACLEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORACLEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORACLEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORACLEBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "ORACLEBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ORACLEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ORACLEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORACLEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORACLEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ORACLEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORACLEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ORACLEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ORACLEBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "ORACLEBOT_S3_PREFIX")
	setDuration(&cfg.S3.AuditRetention, "ORACLEBOT_S3_AUDIT_RETENTION")
	setDuration(&cfg.S3.ArchiveInterval, "ORACLEBOT_S3_ARCHIVE_INTERVAL")

	// ── Oracle ──
	setDuration(&cfg.Oracle.Interval, "ORACLEBOT_ORACLE_INTERVAL")
	setDuration(&cfg.Oracle.Lookback, "ORACLEBOT_ORACLE_LOOKBACK")
	setInt(&cfg.Oracle.BatchSize, "ORACLEBOT_ORACLE_BATCH_SIZE")
	setDuration(&cfg.Oracle.EvidenceDelay, "ORACLEBOT_ORACLE_EVIDENCE_DELAY")
	setStr(&cfg.Oracle.SubmitterAddress, "ORACLEBOT_ORACLE_SUBMITTER_ADDRESS")
	setInt(&cfg.Oracle.DisputeThreshold, "ORACLEBOT_ORACLE_DISPUTE_THRESHOLD")
	setStr(&cfg.Oracle.NewsAPIURL, "ORACLEBOT_ORACLE_NEWS_API_URL")
	setStr(&cfg.Oracle.NewsAPIKey, "ORACLEBOT_ORACLE_NEWS_API_KEY")
	setStr(&cfg.Oracle.ReasonerURL, "ORACLEBOT_ORACLE_REASONER_URL")
	setStr(&cfg.Oracle.ReasonerAPIKey, "ORACLEBOT_ORACLE_REASONER_API_KEY")

	// ── Dispute bot ──
	setDuration(&cfg.DisputeBot.Interval, "ORACLEBOT_DISPUTE_BOT_INTERVAL")
	setStr(&cfg.DisputeBot.Stake, "ORACLEBOT_DISPUTE_BOT_STAKE")
	setInt(&cfg.DisputeBot.MaxConcurrent, "ORACLEBOT_DISPUTE_BOT_MAX_CONCURRENT")
	setInt(&cfg.DisputeBot.ConfidenceThreshold, "ORACLEBOT_DISPUTE_BOT_CONFIDENCE_THRESHOLD")
	setDuration(&cfg.DisputeBot.SubmitDelay, "ORACLEBOT_DISPUTE_BOT_SUBMIT_DELAY")
	setInt(&cfg.DisputeBot.ClaimBatchSize, "ORACLEBOT_DISPUTE_BOT_CLAIM_BATCH_SIZE")
	setInt64(&cfg.DisputeBot.StartBlock, "ORACLEBOT_DISPUTE_BOT_START_BLOCK")
	setInt(&cfg.DisputeBot.ScanRetries, "ORACLEBOT_DISPUTE_BOT_SCAN_RETRIES")

	// ── Coordinator ──
	setDuration(&cfg.Coordinator.Interval, "ORACLEBOT_COORDINATOR_INTERVAL")
	setDuration(&cfg.Coordinator.CommitWindow, "ORACLEBOT_COORDINATOR_COMMIT_WINDOW")
	setDuration(&cfg.Coordinator.RevealWindow, "ORACLEBOT_COORDINATOR_REVEAL_WINDOW")
	setInt(&cfg.Coordinator.BatchSize, "ORACLEBOT_COORDINATOR_BATCH_SIZE")
	setInt64(&cfg.Coordinator.ScanFromBlock, "ORACLEBOT_COORDINATOR_SCAN_FROM_BLOCK")

	// ── Syncer ──
	setDuration(&cfg.Syncer.Interval, "ORACLEBOT_SYNCER_INTERVAL")
	setInt(&cfg.Syncer.Limit, "ORACLEBOT_SYNCER_LIMIT")
	setFloat64(&cfg.Syncer.MinLiquidity, "ORACLEBOT_SYNCER_MIN_LIQUIDITY")
	setStr(&cfg.Polymarket.GammaHost, "ORACLEBOT_POLYMARKET_GAMMA_HOST")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ORACLEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ORACLEBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ORACLEBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ORACLEBOT_SERVER_API_KEY")
	setInt(&cfg.Server.SyncLimit, "ORACLEBOT_SERVER_SYNC_LIMIT")
	setDuration(&cfg.Server.SyncWindow, "ORACLEBOT_SERVER_SYNC_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ORACLEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ORACLEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ORACLEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ORACLEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ORACLEBOT_MODE")
	setStr(&cfg.LogLevel, "ORACLEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setMillis reads an integer millisecond count, the unit the legacy
// *_INTERVAL_MS variables use.
func setMillis(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			dst.Duration = time.Duration(ms) * time.Millisecond
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
