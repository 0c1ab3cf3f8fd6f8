// Package keeper drives the auction clock in the background. Phase advances
// are permissionless, so the keeper is a convenience, not an authority: it
// simply calls the same operations any external caller could, on a timer.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/veilswap/veilswap/internal/domain"
)

// AuctionDriver is the slice of the auction service the keeper needs.
type AuctionDriver interface {
	Phase(ctx context.Context) (domain.Phase, error)
	AdvancePhase(ctx context.Context) (domain.Batch, error)
	SettleBatch(ctx context.Context) (domain.SettlementReport, error)
}

// Keeper polls the auction and advances or settles whenever a window has
// elapsed. When a lock manager is configured, only the instance holding the
// distributed lock drives the clock, so running several daemons is safe.
type Keeper struct {
	driver   AuctionDriver
	locks    domain.LockManager
	archiver domain.Archiver
	audit    domain.AuditStore

	pollInterval  time.Duration
	retryInterval time.Duration
	retentionDays int

	// nextSettleAttempt backs off settlement retries after a failure.
	nextSettleAttempt time.Time

	logger *slog.Logger
}

type Options struct {
	PollInterval        time.Duration
	SettleRetryInterval time.Duration
	RetentionDays       int
	Locks               domain.LockManager
	Archiver            domain.Archiver
	Audit               domain.AuditStore
}

func New(driver AuctionDriver, opts Options, logger *slog.Logger) *Keeper {
	k := &Keeper{
		driver:        driver,
		locks:         opts.Locks,
		archiver:      opts.Archiver,
		audit:         opts.Audit,
		pollInterval:  opts.PollInterval,
		retryInterval: opts.SettleRetryInterval,
		retentionDays: opts.RetentionDays,
		logger:        logger.With(slog.String("component", "keeper")),
	}
	if k.pollInterval <= 0 {
		k.pollInterval = time.Second
	}
	if k.retryInterval <= 0 {
		k.retryInterval = 5 * time.Second
	}
	return k
}

// Run polls until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.Info("keeper started",
		slog.Duration("poll_interval", k.pollInterval))
	defer k.logger.Info("keeper stopped")

	ticker := time.NewTicker(k.pollInterval)
	defer ticker.Stop()

	var archiveTicker <-chan time.Time
	if k.archiver != nil {
		t := time.NewTicker(24 * time.Hour)
		defer t.Stop()
		archiveTicker = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.tick(ctx)
		case <-archiveTicker:
			k.archive(ctx)
		}
	}
}

// tick makes at most one state transition. Transitions into SETTLING are
// followed up by settlement on the next tick, keeping each tick short.
func (k *Keeper) tick(ctx context.Context) {
	if k.locks != nil {
		unlock, err := k.locks.Acquire(ctx, "keeper:tick", k.pollInterval*2)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				k.logger.Warn("keeper lock", slog.String("error", err.Error()))
			}
			return
		}
		defer unlock()
	}

	phase, err := k.driver.Phase(ctx)
	if err != nil {
		k.logger.Warn("phase query failed", slog.String("error", err.Error()))
		return
	}

	if phase == domain.PhaseSettling {
		if time.Now().Before(k.nextSettleAttempt) {
			return
		}
		report, err := k.driver.SettleBatch(ctx)
		if err != nil {
			// Leave the batch in SETTLING and retry after a backoff.
			k.nextSettleAttempt = time.Now().Add(k.retryInterval)
			k.logger.Error("settlement failed, will retry",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", k.retryInterval))
			return
		}
		k.logger.Info("batch settled",
			slog.Uint64("batch_id", report.BatchID),
			slog.Int("executed", report.ExecutedCount),
			slog.Int("slashed", report.SlashedCount))
		return
	}

	batch, err := k.driver.AdvancePhase(ctx)
	switch {
	case err == nil:
		k.logger.Info("phase advanced",
			slog.Uint64("batch_id", batch.ID),
			slog.String("phase", string(batch.Phase)))
	case errors.Is(err, domain.ErrPhaseNotReady):
		// Window still open; nothing to do.
	default:
		k.logger.Warn("advance failed", slog.String("error", err.Error()))
	}
}

// archive ships history older than a day to object storage and prunes audit
// rows past retention.
func (k *Keeper) archive(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -1)
	if n, err := k.archiver.ArchiveSettlements(ctx, cutoff); err != nil {
		k.logger.Warn("settlement archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		k.logger.Info("settlements archived", slog.Int64("rows", n))
	}
	if n, err := k.archiver.ArchiveAudit(ctx, cutoff); err != nil {
		k.logger.Warn("audit archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		k.logger.Info("audit archived", slog.Int64("rows", n))
	}
	if k.audit != nil && k.retentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -k.retentionDays)
		if n, err := k.audit.DeleteBefore(ctx, cutoff); err != nil {
			k.logger.Warn("audit prune failed", slog.String("error", err.Error()))
		} else if n > 0 {
			k.logger.Info("audit pruned", slog.Int64("rows", n))
		}
	}
}
