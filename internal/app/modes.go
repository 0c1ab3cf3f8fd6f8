package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veilswap/veilswap/internal/amm"
	"github.com/veilswap/veilswap/internal/auction"
	"github.com/veilswap/veilswap/internal/compliance"
	"github.com/veilswap/veilswap/internal/crypto"
	"github.com/veilswap/veilswap/internal/custody"
	"github.com/veilswap/veilswap/internal/keeper"
	"github.com/veilswap/veilswap/internal/server"
	"github.com/veilswap/veilswap/internal/server/handler"
	"github.com/veilswap/veilswap/internal/server/ws"
	"github.com/veilswap/veilswap/internal/service"
)

// core bundles the engine-side objects shared by every mode.
type core struct {
	auctionSvc *service.AuctionService
	quoteSvc   *service.QuoteService
	vault      *custody.Vault
}

// buildCore constructs the pool, vault, signer, and services from the
// configuration. The signer is optional: without a wallet key, settlement
// reports are published unsigned.
func (a *App) buildCore(deps *Dependencies) (*core, error) {
	pool, err := amm.NewPool(
		a.cfg.Auction.TokenBase,
		a.cfg.Auction.TokenQuote,
		a.cfg.Pool.ReserveBase,
		a.cfg.Pool.ReserveQuote,
		a.cfg.Pool.FeeBps,
	)
	if err != nil {
		return nil, fmt.Errorf("app: pool: %w", err)
	}

	vault := custody.NewVault(a.cfg.Auction.CollateralToken)

	var signer *crypto.Signer
	if a.cfg.Wallet.PrivateKey != "" || a.cfg.Wallet.EncryptedKeyPath != "" {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    a.cfg.Wallet.PrivateKey,
			EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      a.cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("app: load wallet key: %w", err)
		}
		signer, err = crypto.NewSigner(keyHex)
		if err != nil {
			return nil, fmt.Errorf("app: signer: %w", err)
		}
		a.logger.Info("report signing enabled",
			slog.String("address", signer.Address().Hex()))
	}

	var opts []auction.Option
	if len(a.cfg.Auction.Allowlist) > 0 {
		opts = append(opts, auction.WithComplianceGate(compliance.NewAllowlist(a.cfg.Auction.Allowlist)))
	}

	auctionSvc := service.NewAuctionService(
		auction.Config{
			TokenBase:         a.cfg.Auction.TokenBase,
			TokenQuote:        a.cfg.Auction.TokenQuote,
			CommitWindow:      a.cfg.Auction.CommitWindow.Duration,
			RevealWindow:      a.cfg.Auction.RevealWindow.Duration,
			MinCollateral:     a.cfg.Auction.MinCollateral,
			SlashBps:          a.cfg.Auction.SlashBps,
			PriceToleranceBps: a.cfg.Auction.PriceToleranceBps,
			Beneficiary:       a.cfg.Auction.Beneficiary,
		},
		pool,
		vault,
		service.Stores{
			Commitments: deps.CommitmentStore,
			Batches:     deps.BatchStore,
			Settlements: deps.SettlementStore,
			Audit:       deps.AuditStore,
		},
		deps.SignalBus,
		signer,
		deps.Notifier,
		deps.RateLimiter,
		a.cfg.Auction.CommitRateLimit,
		a.logger,
		opts...,
	)

	quoteSvc := service.NewQuoteService(
		pool,
		deps.QuoteCache,
		a.cfg.Auction.TokenBase,
		a.cfg.Auction.TokenQuote,
		a.logger,
	)

	return &core{auctionSvc: auctionSvc, quoteSvc: quoteSvc, vault: vault}, nil
}

// startKeeper launches the background phase keeper into the errgroup.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, c *core, deps *Dependencies) {
	k := keeper.New(c.auctionSvc, keeper.Options{
		PollInterval:        a.cfg.Keeper.PollInterval.Duration,
		SettleRetryInterval: a.cfg.Keeper.SettleRetryInterval.Duration,
		RetentionDays:       a.cfg.Keeper.ArchiveRetentionDays,
		Locks:               deps.LockManager,
		Archiver:            deps.Archiver,
		Audit:               deps.AuditStore,
	}, a.logger)
	g.Go(func() error {
		return k.Run(ctx)
	})
}

// startServer launches the HTTP + WebSocket API into the errgroup.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, c *core, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, func() (uint64, string) {
		batch := c.auctionSvc.CurrentBatch()
		return batch.ID, string(batch.Phase)
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Commit:  handler.NewCommitHandler(c.auctionSvc, a.logger),
		Batch:   handler.NewBatchHandler(c.auctionSvc, a.logger),
		Quote:   handler.NewQuoteHandler(c.quoteSvc, a.logger),
		Custody: handler.NewCustodyHandler(c.vault, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, deps.BlobDeleter, a.logger)
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
		},
		handlers,
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// EngineMode runs the auction engine and the keeper without the API server.
// Phase transitions are driven entirely by the keeper.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.auctionSvc.Run(ctx)
	})
	a.startKeeper(ctx, g, c, deps)
	return g.Wait()
}

// ServerMode runs the engine behind the API server without the keeper.
// Phase transitions are driven through the permissionless batch endpoints.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.auctionSvc.Run(ctx)
	})
	a.startServer(ctx, g, c, deps)
	return g.Wait()
}

// FullMode runs the engine, the keeper, and the API server together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.auctionSvc.Run(ctx)
	})
	if a.cfg.Keeper.Enabled {
		a.startKeeper(ctx, g, c, deps)
	}
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, c, deps)
	}
	return g.Wait()
}
