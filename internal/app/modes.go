package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerd/internal/server"
	"github.com/alanyoungcy/wagerd/internal/server/handler"
	"github.com/alanyoungcy/wagerd/internal/server/ws"
	"github.com/alanyoungcy/wagerd/internal/service"
)

// ServerMode runs the full escrow service: the HTTP API, the WebSocket hub,
// and the background archiver.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	svc, err := a.buildEscrowService(ctx, deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, svc)

	if deps.Archiver != nil {
		a.startArchiveLoop(ctx, g, deps)
	}

	return g.Wait()
}

// DevMode runs the HTTP API against the configured ledger without the
// background archiver. Intended for local development; resolution signature
// checks are typically disabled by leaving resolver.address empty.
func (a *App) DevMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dev mode")
	if a.cfg.Resolver.Address == "" {
		a.logger.WarnContext(ctx, "resolver address not set, resolution signature checks are disabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	svc, err := a.buildEscrowService(ctx, deps)
	if err != nil {
		return fmt.Errorf("dev mode: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, svc)

	return g.Wait()
}

// ArchiveMode runs a single archive pass and exits. Useful as a cron job or
// one-off maintenance command.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver is not wired (check s3 configuration)")
	}

	return a.runArchivePass(ctx, deps)
}

// buildEscrowService constructs the escrow service and rehydrates live
// markets from the store.
func (a *App) buildEscrowService(ctx context.Context, deps *Dependencies) (*service.EscrowService, error) {
	var resolver common.Address
	if a.cfg.Resolver.Address != "" {
		resolver = common.HexToAddress(a.cfg.Resolver.Address)
	}
	var sweepTo common.Address
	if a.cfg.Operator.SweepAddress != "" {
		sweepTo = common.HexToAddress(a.cfg.Operator.SweepAddress)
	}

	svc := service.NewEscrowService(service.Deps{
		Markets:   deps.MarketStore,
		Positions: deps.PositionStore,
		Audit:     deps.AuditStore,
		Cache:     deps.MarketCache,
		Locks:     deps.LockManager,
		Bus:       deps.SignalBus,
		Ledger:    deps.Ledger,
		Notifier:  deps.Notifier,
		Logger:    a.logger,
		Resolver:  resolver,
		SweepTo:   sweepTo,
		LockTTL:   a.cfg.Escrow.LockTTL.Duration,
	})

	if err := svc.LoadMarkets(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.EscrowService) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by configuration")
		return
	}

	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Markets:   handler.NewMarketHandler(svc, a.logger),
		Bets:      handler.NewBetHandler(svc, a.logger),
		Claims:    handler.NewClaimHandler(svc, a.logger),
		Positions: handler.NewPositionHandler(svc, a.logger),
		Audit:     handler.NewAuditHandler(svc, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, startedAt, svc, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiveLoop adds a background goroutine that periodically moves old
// resolved markets and audit entries to blob storage.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Escrow.ArchiveInterval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := a.runArchivePass(ctx, deps); err != nil {
					a.logger.ErrorContext(ctx, "archive pass failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})

	a.logger.InfoContext(ctx, "archive loop started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Escrow.ArchiveRetentionDays),
	)
}

// runArchivePass archives markets resolved before the retention cutoff and
// audit entries older than the cutoff.
func (a *App) runArchivePass(ctx context.Context, deps *Dependencies) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Escrow.ArchiveRetentionDays)

	markets, err := deps.Archiver.ArchiveMarkets(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive markets: %w", err)
	}

	audit, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive audit: %w", err)
	}

	a.logger.InfoContext(ctx, "archive pass complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("markets_archived", markets),
		slog.Int64("audit_entries_archived", audit),
	)
	return nil
}
