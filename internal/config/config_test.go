package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestDefaultsNeedOnlyASigner(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet: either private_key or encrypted_key_path")

	cfg.Wallet.PrivateKey = testKey
	assert.NoError(t, cfg.Validate())
}

func TestValidateMissingContractIsFatal(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "disputebot"
	cfg.Wallet.PrivateKey = testKey
	cfg.Contracts.Dispute = ""
	cfg.Contracts.Markets = "markets"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contracts: dispute")
	assert.Contains(t, err.Error(), "contracts: markets")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Database.Backend = "sqlite"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "bogus"`)
	assert.Contains(t, err.Error(), `unknown log_level "loud"`)
	assert.Contains(t, err.Error(), `unknown backend "sqlite"`)
}

func TestValidateOracleNeedsSubmitter(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "oracle"
	require.Error(t, cfg.Validate())

	cfg.Oracle.SubmitterAddress = "0x00000000000000000000000000000000000000aa"
	assert.NoError(t, cfg.Validate())
}

func TestValidateStake(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "disputebot"
	cfg.Wallet.PrivateKey = testKey
	cfg.DisputeBot.Stake = "lots"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispute_bot: stake")
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "coordinator"

[coordinator]
commit_window = "2h"
batch_size = 9

[dispute_bot]
stake = "0.5"
`), 0o600))

	t.Setenv("ORACLEBOT_COORDINATOR_REVEAL_WINDOW", "90m")
	t.Setenv("DISPUTE_POLL_INTERVAL_MS", "1500")
	t.Setenv("ORACLEBOT_DISPUTE_BOT_STAKE", "0.25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "coordinator", cfg.Mode)
	assert.Equal(t, 2*time.Hour, cfg.Coordinator.CommitWindow.Duration)
	assert.Equal(t, 90*time.Minute, cfg.Coordinator.RevealWindow.Duration)
	assert.Equal(t, 9, cfg.Coordinator.BatchSize)
	assert.Equal(t, 1500*time.Millisecond, cfg.DisputeBot.Interval.Duration)
	assert.Equal(t, "0.25", cfg.DisputeBot.Stake, "prefixed variable wins over file")
	assert.Equal(t, int64(97), cfg.Chain.ChainID)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 5, cfg.DisputeBot.MaxConcurrent)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = testKey
	cfg.Oracle.NewsAPIKey = "news"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Oracle.NewsAPIKey)
	assert.Equal(t, "", out.Wallet.KeyPassword)
	assert.Equal(t, testKey, cfg.Wallet.PrivateKey)

	out.Notify.Events[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Notify.Events[0])
}
