// Package config defines the top-level configuration for oraclebot and
// provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ORACLEBOT_* environment variables.
type Config struct {
	Wallet      WalletConfig      `toml:"wallet"`
	Chain       ChainConfig       `toml:"chain"`
	Contracts   ContractsConfig   `toml:"contracts"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Oracle      OracleConfig      `toml:"oracle"`
	DisputeBot  DisputeBotConfig  `toml:"dispute_bot"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Syncer      SyncerConfig      `toml:"syncer"`
	Polymarket  PolymarketConfig  `toml:"polymarket"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// WalletConfig holds the signer credentials used for on-chain writes.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// HasKey reports whether any signer source is configured.
func (w WalletConfig) HasKey() bool {
	return w.PrivateKey != "" || w.EncryptedKeyPath != ""
}

// ChainConfig holds RPC and transaction parameters.
type ChainConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	ChainID        int64    `toml:"chain_id"`
	ReceiptTimeout duration `toml:"receipt_timeout"`
	MaxBlockRange  int      `toml:"max_block_range"`
	FallbackGas    int      `toml:"fallback_gas"`
}

// ContractsConfig holds the addresses of the consumed contracts.
type ContractsConfig struct {
	Dispute           string `toml:"dispute"`
	Markets           string `toml:"markets"` // prediction market the dispute contract references
	SubjectiveFactory string `toml:"subjective_factory"`
	Aggregator        string `toml:"aggregator"`
}

// DatabaseConfig holds PostgreSQL connection parameters. Backend "memory"
// keeps everything in process and is meant for dry runs.
type DatabaseConfig struct {
	Backend       string `toml:"backend"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for the evidence
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
	// AuditRetention is how long audit entries stay in the database before
	// they are archived to the bucket. Zero disables archiving.
	AuditRetention  duration `toml:"audit_retention"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// OracleConfig holds anomaly scorer parameters. The penalty and threshold
// values are business constants; keep them tunable rather than derived.
type OracleConfig struct {
	Interval         duration `toml:"interval"`
	Lookback         duration `toml:"lookback"`
	BatchSize        int      `toml:"batch_size"`
	EvidenceDelay    duration `toml:"evidence_delay"`
	RequestTimeout   duration `toml:"request_timeout"`
	SubmitterAddress string   `toml:"submitter_address"`

	DisputeThreshold      int      `toml:"dispute_threshold"`
	LowConfidence         int      `toml:"low_confidence"`
	FastResolutionWindow  duration `toml:"fast_resolution_window"`
	FastResolutionPenalty int      `toml:"fast_resolution_penalty"`
	LowVolumeThreshold    float64  `toml:"low_volume_threshold"`
	LowVolumePenalty      int      `toml:"low_volume_penalty"`
	IncorrectPenalty      int      `toml:"incorrect_penalty"`

	NewsAPIURL     string `toml:"news_api_url"`
	NewsAPIKey     string `toml:"news_api_key"`
	ReasonerURL    string `toml:"reasoner_url"`
	ReasonerAPIKey string `toml:"reasoner_api_key"`
}

// DisputeBotConfig holds submission and claim parameters.
type DisputeBotConfig struct {
	Interval            duration `toml:"interval"`
	Stake               string   `toml:"stake"` // native units, e.g. "0.1"
	MaxConcurrent       int      `toml:"max_concurrent"`
	ConfidenceThreshold int      `toml:"confidence_threshold"`
	SubmitDelay         duration `toml:"submit_delay"`
	ClaimDelay          duration `toml:"claim_delay"`
	ClaimBatchSize      int      `toml:"claim_batch_size"`
	LeaseDuration       duration `toml:"lease_duration"`
	ItemTimeout         duration `toml:"item_timeout"`
	StartBlock          int64    `toml:"start_block"` // < 0 starts at chain head
	ScanRetries         int      `toml:"scan_retries"`
}

// CoordinatorConfig holds subjective market phase parameters.
type CoordinatorConfig struct {
	Interval      duration `toml:"interval"`
	CommitWindow  duration `toml:"commit_window"`
	RevealWindow  duration `toml:"reveal_window"`
	BatchSize     int      `toml:"batch_size"`
	ScanFromBlock int64    `toml:"scan_from_block"`
	ItemTimeout   duration `toml:"item_timeout"`
}

// SyncerConfig holds external listing sync parameters.
type SyncerConfig struct {
	Interval     duration `toml:"interval"`
	Limit        int      `toml:"limit"`
	MinLiquidity float64  `toml:"min_liquidity"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP status server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the manual sync endpoints. Empty leaves them open.
	APIKey     string   `toml:"api_key"`
	SyncLimit  int      `toml:"sync_limit"`
	SyncWindow duration `toml:"sync_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// Contract addresses default to the BSC testnet deployment.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:         "https://data-seed-prebsc-1-s1.bnbchain.org:8545",
			ChainID:        97,
			ReceiptTimeout: duration{2 * time.Minute},
			MaxBlockRange:  5000,
			FallbackGas:    500_000,
		},
		Contracts: ContractsConfig{
			Dispute:           "0x52EbCBf8c967Fcb4b83644626822881ADaA9bffF",
			Markets:           "0x0000000000000000000000000000000000000000",
			SubjectiveFactory: "0x6E83054913aA6C616257Dae2e87BC44F9260EDc6",
			Aggregator:        "0x0000000000000000000000000000000000000000",
		},
		Database: DatabaseConfig{
			Backend:       "postgres",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "oraclebot-evidence",
			ForcePathStyle:  true,
			Prefix:          "oraclebot",
			AuditRetention:  duration{30 * 24 * time.Hour},
			ArchiveInterval: duration{24 * time.Hour},
		},
		Oracle: OracleConfig{
			Interval:              duration{time.Minute},
			Lookback:              duration{24 * time.Hour},
			BatchSize:             20,
			EvidenceDelay:         duration{time.Second},
			RequestTimeout:        duration{15 * time.Second},
			DisputeThreshold:      40,
			LowConfidence:         50,
			FastResolutionWindow:  duration{time.Hour},
			FastResolutionPenalty: 20,
			LowVolumeThreshold:    0.01,
			LowVolumePenalty:      15,
			IncorrectPenalty:      30,
			NewsAPIURL:            "https://newsapi.org/v2/everything",
		},
		DisputeBot: DisputeBotConfig{
			Interval:            duration{time.Minute},
			Stake:               "0.1",
			MaxConcurrent:       5,
			ConfidenceThreshold: 50,
			SubmitDelay:         duration{2 * time.Second},
			ClaimDelay:          duration{2 * time.Second},
			ClaimBatchSize:      20,
			LeaseDuration:       duration{10 * time.Minute},
			ItemTimeout:         duration{5 * time.Minute},
			StartBlock:          -1,
			ScanRetries:         3,
		},
		Coordinator: CoordinatorConfig{
			Interval:     duration{time.Minute},
			CommitWindow: duration{24 * time.Hour},
			RevealWindow: duration{24 * time.Hour},
			BatchSize:    5,
			ItemTimeout:  duration{5 * time.Minute},
		},
		Syncer: SyncerConfig{
			Interval:     duration{5 * time.Minute},
			Limit:        100,
			MinLiquidity: 100,
		},
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       8000,
			SyncLimit:  10,
			SyncWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"dispute_candidate", "dispute_submitted", "reward_claimed", "verifier_commit", "verifier_reveal"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"oracle":      true,
	"disputebot":  true,
	"coordinator": true,
	"syncer":      true,
	"full":        true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Runs reports whether the configured mode runs the named component.
func (c *Config) Runs(component string) bool {
	mode := strings.ToLower(c.Mode)
	return mode == "full" || mode == component
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: oracle, disputebot, coordinator, syncer, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Signer: required by every component that writes on-chain.
	needsSigner := c.Runs("disputebot") || c.Runs("coordinator")
	if needsSigner {
		if !c.Wallet.HasKey() {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Chain.MaxBlockRange < 1 {
			errs = append(errs, "chain: max_block_range must be >= 1")
		}
	}

	if c.Runs("disputebot") {
		if !addressRe.MatchString(c.Contracts.Dispute) {
			errs = append(errs, fmt.Sprintf("contracts: dispute must be a 0x address, got %q", c.Contracts.Dispute))
		}
		if !addressRe.MatchString(c.Contracts.Markets) {
			errs = append(errs, fmt.Sprintf("contracts: markets must be a 0x address, got %q", c.Contracts.Markets))
		}
		if c.DisputeBot.ScanRetries < 1 {
			errs = append(errs, "dispute_bot: scan_retries must be >= 1")
		}
		if _, ok := new(big.Rat).SetString(c.DisputeBot.Stake); !ok {
			errs = append(errs, fmt.Sprintf("dispute_bot: stake %q is not a decimal amount", c.DisputeBot.Stake))
		}
		if c.DisputeBot.MaxConcurrent < 1 {
			errs = append(errs, "dispute_bot: max_concurrent must be >= 1")
		}
		if c.DisputeBot.ConfidenceThreshold < 0 || c.DisputeBot.ConfidenceThreshold > 100 {
			errs = append(errs, "dispute_bot: confidence_threshold must be 0-100")
		}
		if c.DisputeBot.ClaimBatchSize < 1 {
			errs = append(errs, "dispute_bot: claim_batch_size must be >= 1")
		}
	}

	if c.Runs("coordinator") {
		if !addressRe.MatchString(c.Contracts.SubjectiveFactory) {
			errs = append(errs, fmt.Sprintf("contracts: subjective_factory must be a 0x address, got %q", c.Contracts.SubjectiveFactory))
		}
		if c.Coordinator.CommitWindow.Duration <= 0 || c.Coordinator.RevealWindow.Duration <= 0 {
			errs = append(errs, "coordinator: commit_window and reveal_window must be > 0")
		}
		if c.Coordinator.BatchSize < 1 {
			errs = append(errs, "coordinator: batch_size must be >= 1")
		}
	}

	if c.Runs("oracle") {
		if c.Oracle.SubmitterAddress == "" && !c.Wallet.HasKey() {
			errs = append(errs, "oracle: submitter_address or a wallet key must be set")
		}
		if c.Oracle.SubmitterAddress != "" && !addressRe.MatchString(c.Oracle.SubmitterAddress) {
			errs = append(errs, fmt.Sprintf("oracle: submitter_address must be a 0x address, got %q", c.Oracle.SubmitterAddress))
		}
		if c.Oracle.BatchSize < 1 {
			errs = append(errs, "oracle: batch_size must be >= 1")
		}
	}

	if c.Runs("syncer") {
		if c.Polymarket.GammaHost == "" {
			errs = append(errs, "polymarket: gamma_host must not be empty")
		}
		if !addressRe.MatchString(c.Contracts.Aggregator) {
			errs = append(errs, fmt.Sprintf("contracts: aggregator must be a 0x address, got %q", c.Contracts.Aggregator))
		}
	}

	// Database
	switch strings.ToLower(c.Database.Backend) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("database: unknown backend %q (valid: postgres, memory)", c.Database.Backend))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.AuditRetention.Duration < 0 {
			errs = append(errs, "s3: audit_retention must not be negative")
		}
		if c.S3.AuditRetention.Duration > 0 && c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be positive when audit_retention is set")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
