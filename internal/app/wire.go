package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	s3blob "github.com/alanyoungcy/wagerd/internal/blob/s3"
	"github.com/alanyoungcy/wagerd/internal/cache/redis"
	"github.com/alanyoungcy/wagerd/internal/config"
	"github.com/alanyoungcy/wagerd/internal/crypto"
	"github.com/alanyoungcy/wagerd/internal/domain"
	"github.com/alanyoungcy/wagerd/internal/ledger/evm"
	"github.com/alanyoungcy/wagerd/internal/ledger/memory"
	"github.com/alanyoungcy/wagerd/internal/notify"
	"github.com/alanyoungcy/wagerd/internal/store/postgres"
)

// devLedgerAccount is the custody account used by the in-process dev ledger
// when no operator key is configured.
var devLedgerAccount = common.HexToAddress("0x0000000000000000000000000000000000000e5c")

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore   domain.MarketStore
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore

	// Archive views over the same tables.
	MarketArchive   *postgres.MarketStore
	PositionArchive *postgres.PositionStore
	AuditArchive    *postgres.AuditStore

	// Caches and messaging
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Asset custody
	Ledger domain.AssetLedger

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that require object storage.
func needsS3(mode string) bool {
	switch mode {
	case "server", "archive":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	marketStore := postgres.NewMarketStore(pool)
	positionStore := postgres.NewPositionStore(pool)
	auditStore := postgres.NewAuditStore(pool)
	deps.MarketStore = marketStore
	deps.PositionStore = positionStore
	deps.AuditStore = auditStore
	deps.MarketArchive = marketStore
	deps.PositionArchive = positionStore
	deps.AuditArchive = auditStore

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(cfg.Mode) {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.MarketArchive,
			deps.PositionArchive,
			deps.AuditArchive,
		)
	}

	// --- Asset ledger ---
	ledger, ledgerClosers, err := buildLedger(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}
	closers = append(closers, ledgerClosers...)
	deps.Ledger = ledger

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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildLedger constructs the configured asset ledger backend. The evm backend
// loads the operator key and dials the JSON-RPC endpoint; the memory backend
// is a free-standing in-process ledger for development.
func buildLedger(ctx context.Context, cfg *config.Config) (domain.AssetLedger, []func(), error) {
	switch strings.ToLower(cfg.Chain.Ledger) {
	case "evm":
		keyHex, err := crypto.LoadOperatorKey(crypto.KeySource{
			RawKeyHex:     cfg.Operator.PrivateKey,
			EncryptedPath: cfg.Operator.EncryptedKeyPath,
			Password:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			return nil, nil, err
		}
		ledger, err := evm.New(ctx, evm.Config{
			RPCURL:        cfg.Chain.RPCURL,
			ChainID:       cfg.Chain.ChainID,
			PrivateKeyHex: keyHex,
		})
		if err != nil {
			return nil, nil, err
		}
		return ledger, []func(){ledger.Close}, nil

	case "memory":
		account := devLedgerAccount
		if cfg.Operator.PrivateKey != "" || cfg.Operator.EncryptedKeyPath != "" {
			keyHex, err := crypto.LoadOperatorKey(crypto.KeySource{
				RawKeyHex:     cfg.Operator.PrivateKey,
				EncryptedPath: cfg.Operator.EncryptedKeyPath,
				Password:      cfg.Operator.KeyPassword,
			})
			if err != nil {
				return nil, nil, err
			}
			key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
			if err != nil {
				return nil, nil, fmt.Errorf("parse operator key: %w", err)
			}
			account = ethcrypto.PubkeyToAddress(key.PublicKey)
		}
		return memory.New(account), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Chain.Ledger)
	}
}
