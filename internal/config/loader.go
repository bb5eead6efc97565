package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the configuration file at path, applies WAGERD_* environment
// overrides, and validates the result. A .env file next to the working
// directory is loaded first so local development secrets stay out of the
// config file.
func Load(path string) (*Config, error) {
	// Missing .env is fine; it is a convenience for development.
	_ = godotenv.Load()

	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decoding %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment environments override file values without
// editing the config file. Only secrets and connection endpoints are exposed
// this way.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Mode, "WAGERD_MODE")
	setString(&cfg.LogLevel, "WAGERD_LOG_LEVEL")

	setString(&cfg.Operator.PrivateKey, "WAGERD_OPERATOR_KEY")
	setString(&cfg.Operator.EncryptedKeyPath, "WAGERD_OPERATOR_KEY_PATH")
	setString(&cfg.Operator.KeyPassword, "WAGERD_OPERATOR_KEY_PASSWORD")

	setString(&cfg.Chain.Ledger, "WAGERD_LEDGER")
	setString(&cfg.Chain.RPCURL, "WAGERD_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "WAGERD_CHAIN_ID")

	setString(&cfg.Resolver.Address, "WAGERD_RESOLVER_ADDRESS")

	setString(&cfg.Database.DSN, "WAGERD_DATABASE_DSN")
	setString(&cfg.Database.Host, "WAGERD_DATABASE_HOST")
	setInt(&cfg.Database.Port, "WAGERD_DATABASE_PORT")
	setString(&cfg.Database.User, "WAGERD_DATABASE_USER")
	setString(&cfg.Database.Password, "WAGERD_DATABASE_PASSWORD")
	setString(&cfg.Database.Database, "WAGERD_DATABASE_NAME")

	setString(&cfg.Redis.Addr, "WAGERD_REDIS_ADDR")
	setString(&cfg.Redis.Password, "WAGERD_REDIS_PASSWORD")

	setString(&cfg.S3.Endpoint, "WAGERD_S3_ENDPOINT")
	setString(&cfg.S3.Bucket, "WAGERD_S3_BUCKET")
	setString(&cfg.S3.AccessKey, "WAGERD_S3_ACCESS_KEY")
	setString(&cfg.S3.SecretKey, "WAGERD_S3_SECRET_KEY")

	setInt(&cfg.Server.Port, "WAGERD_SERVER_PORT")
	setString(&cfg.Server.APIKey, "WAGERD_API_KEY")

	setString(&cfg.Notify.TelegramToken, "WAGERD_TELEGRAM_TOKEN")
	setString(&cfg.Notify.TelegramChatID, "WAGERD_TELEGRAM_CHAT_ID")
	setString(&cfg.Notify.DiscordWebhookURL, "WAGERD_DISCORD_WEBHOOK_URL")

	setDuration(&cfg.Escrow.LockTTL, "WAGERD_LOCK_TTL")
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *duration, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
