// Command oraclebot runs the off-chain resolution components: the anomaly
// scorer, the dispute submission bot, the subjective market coordinator and
// the external market syncer. It loads configuration, validates it, sets up
// signal handling, and starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/oraclebot/internal/app"
	"github.com/alanyoungcy/oraclebot/internal/config"
	"github.com/alanyoungcy/oraclebot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (oracle, disputebot, coordinator, syncer, full)")
	encryptKey := flag.String("encrypt-key", "", "write wallet.private_key to this path encrypted with wallet.key_password, then exit")
	flag.Parse()

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if *encryptKey != "" {
		addr, err := crypto.WriteKeyFile(*encryptKey, cfg.Wallet.PrivateKey, cfg.Wallet.KeyPassword)
		if err != nil {
			logger.Error("failed to write key file", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("key file written",
			slog.String("path", *encryptKey),
			slog.String("address", addr),
		)
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("oraclebot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		application.Close()
		os.Exit(1)
	}

	logger.Info("oraclebot stopped")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
