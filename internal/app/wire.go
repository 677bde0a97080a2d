package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/oraclebot/internal/blob/s3"
	"github.com/alanyoungcy/oraclebot/internal/cache/redis"
	"github.com/alanyoungcy/oraclebot/internal/chain"
	"github.com/alanyoungcy/oraclebot/internal/config"
	"github.com/alanyoungcy/oraclebot/internal/crypto"
	"github.com/alanyoungcy/oraclebot/internal/domain"
	"github.com/alanyoungcy/oraclebot/internal/metrics"
	"github.com/alanyoungcy/oraclebot/internal/notify"
	"github.com/alanyoungcy/oraclebot/internal/store/memory"
	"github.com/alanyoungcy/oraclebot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the components run on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore         domain.MarketStore
	ExternalMarketStore domain.ExternalMarketStore
	DisputeStore        domain.DisputeStore
	CheckpointStore     domain.CheckpointStore
	AuditStore          domain.AuditStore

	// Redis; nil when disabled.
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Object storage; nil when S3 is disabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Chain; nil when no component in the mode writes on-chain.
	Signer *crypto.Signer
	Chain  *chain.Client

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Backends are the remote stores /api/health pings, keyed by name.
	Backends map[string]domain.Pinger
}

// needsSigner reports whether the mode needs the wallet key: the dispute bot
// and the coordinator transact, and the oracle falls back to the signer
// address when no submitter is configured.
func needsSigner(cfg *config.Config) bool {
	if cfg.Runs("disputebot") || cfg.Runs("coordinator") {
		return true
	}
	return cfg.Runs("oracle") && cfg.Oracle.SubmitterAddress == ""
}

// needsChain reports whether the mode talks to the RPC endpoint.
func needsChain(cfg *config.Config) bool {
	return cfg.Runs("disputebot") || cfg.Runs("coordinator")
}

// Wire constructs the concrete dependency implementations from cfg and returns
// them together with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps := &Dependencies{
		Metrics:  metrics.New(reg),
		Backends: make(map[string]domain.Pinger),
	}

	// --- Stores ---
	switch strings.ToLower(cfg.Database.Backend) {
	case "memory":
		logger.WarnContext(ctx, "using in-memory store; state is lost on restart")
		deps.MarketStore = memory.NewMarketStore()
		deps.ExternalMarketStore = memory.NewExternalMarketStore()
		deps.DisputeStore = memory.NewDisputeStore()
		deps.CheckpointStore = memory.NewCheckpointStore()
		deps.AuditStore = memory.NewAuditStore()
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
			AppName:  "oraclebot-" + cfg.Mode,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)
		deps.Backends["postgres"] = pgClient

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.ExternalMarketStore = postgres.NewExternalMarketStore(pool)
		deps.DisputeStore = postgres.NewDisputeStore(pool)
		deps.CheckpointStore = postgres.NewCheckpointStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Name:       "oraclebot-" + cfg.Mode,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Backends["redis"] = redisClient

		streamMaxLen := int64(10000)
		if cfg.Redis.StreamMaxLen > 0 {
			streamMaxLen = int64(cfg.Redis.StreamMaxLen)
		}
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, streamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- S3 evidence archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Backends["s3"] = s3Client
		writer := s3blob.NewWriter(s3Client, cfg.S3.Prefix)
		deps.BlobWriter = writer
		deps.BlobReader = s3blob.NewReader(s3Client, cfg.S3.Prefix)
		deps.Archiver = s3blob.NewArchiver(writer, deps.AuditStore)
	}

	// --- Signer and chain ---
	if needsSigner(cfg) {
		signer, err := crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		}, cfg.Chain.ChainID)
		if err != nil {
			return fail("signer", err)
		}
		deps.Signer = signer
	}
	if needsChain(cfg) {
		eth, err := chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return fail("chain", err)
		}
		closers = append(closers, eth.Close)
		deps.Chain = chain.NewClient(eth, deps.Signer, chain.Options{
			ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
			FallbackGas:    uint64(cfg.Chain.FallbackGas),
			MaxBlockRange:  uint64(cfg.Chain.MaxBlockRange),
		}, logger)
		deps.Backends["rpc"] = deps.Chain
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, deps.Metrics, logger)

	return deps, cleanup, nil
}
