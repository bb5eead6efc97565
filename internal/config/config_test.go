package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Operator.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	return cfg
}

func TestDefaultsValidateWithMemoryLedger(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.Ledger = "memory"
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "banana"
	cfg.Redis.Addr = ""
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "server: port")
}

func TestValidateEVMLedgerRequiresKeyAndRPC(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.Ledger = "evm"
	cfg.Chain.RPCURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc_url")
	assert.Contains(t, err.Error(), "operator")
}

func TestValidateRejectsBadAddresses(t *testing.T) {
	cfg := validConfig()
	cfg.Resolver.Address = "not-an-address"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolver")
}

func TestLoadDecodesTOMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "dev"
log_level = "debug"

[chain]
ledger = "memory"

[escrow]
lock_ttl = "45s"

[server]
port = 9090
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("WAGERD_REDIS_ADDR", "redis.internal:6380")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Chain.Ledger)
	assert.Equal(t, 45*time.Second, cfg.Escrow.LockTTL.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "nope"`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Password = "db-secret"
	cfg.Server.APIKey = "api-secret"
	cfg.Notify.TelegramToken = "tg-secret"

	red := cfg.Redacted()
	assert.Equal(t, redactedPlaceholder, red.Operator.PrivateKey)
	assert.Equal(t, redactedPlaceholder, red.Database.Password)
	assert.Equal(t, redactedPlaceholder, red.Server.APIKey)
	assert.Equal(t, redactedPlaceholder, red.Notify.TelegramToken)

	// Original is untouched.
	assert.Equal(t, "db-secret", cfg.Database.Password)
}
