// Package service coordinates the auction engine with persistence, the
// signal bus, notifications, and report signing. Handlers and the keeper
// talk to services, never to the engine or stores directly.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/veilswap/veilswap/internal/auction"
	"github.com/veilswap/veilswap/internal/crypto"
	"github.com/veilswap/veilswap/internal/domain"
)

// busChannel is the pub/sub channel and busStream the durable stream that
// carry auction lifecycle events.
const (
	busChannel = "auction.events"
	busStream  = "auction:events"
)

// Notifier is the slice of the notification system the service uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// AuctionService wraps the in-memory auction engine with durable writes and
// fan-out. The engine stays authoritative for live batch state; Postgres
// carries the audit trail and settled history.
type AuctionService struct {
	mgr *auction.Manager

	commitments domain.CommitmentStore
	batches     domain.BatchStore
	settlements domain.SettlementStore
	audit       domain.AuditStore
	bus         domain.SignalBus
	signer      *crypto.Signer
	notifier    Notifier

	limiter     domain.RateLimiter
	commitLimit int // commits per minute per committer; 0 disables

	events chan domain.Event
	logger *slog.Logger
}

// Stores groups the persistence dependencies of the AuctionService. Any nil
// store disables its writes, which keeps engine-only deployments possible.
type Stores struct {
	Commitments domain.CommitmentStore
	Batches     domain.BatchStore
	Settlements domain.SettlementStore
	Audit       domain.AuditStore
}

// NewAuctionService creates the service around an engine config. The engine's
// event sink feeds the service's fan-out loop, so events are delivered off
// the engine's lock.
func NewAuctionService(
	cfg auction.Config,
	quoter domain.PriceQuoter,
	custody domain.Custody,
	stores Stores,
	bus domain.SignalBus,
	signer *crypto.Signer,
	notifier Notifier,
	limiter domain.RateLimiter,
	commitLimit int,
	logger *slog.Logger,
	opts ...auction.Option,
) *AuctionService {
	s := &AuctionService{
		commitments: stores.Commitments,
		batches:     stores.Batches,
		settlements: stores.Settlements,
		audit:       stores.Audit,
		bus:         bus,
		signer:      signer,
		notifier:    notifier,
		limiter:     limiter,
		commitLimit: commitLimit,
		events:      make(chan domain.Event, 256),
		logger:      logger.With(slog.String("component", "auction_service")),
	}
	opts = append(opts, auction.WithEventSink(domain.EventSinkFunc(s.enqueue)))
	s.mgr = auction.NewManager(cfg, quoter, custody, logger, opts...)
	return s
}

// enqueue hands an engine event to the fan-out loop without blocking the
// engine. If the buffer is full the event is dropped from fan-out; persistent
// state is written synchronously in the operation paths, so nothing
// authoritative is lost.
func (s *AuctionService) enqueue(evt domain.Event) {
	select {
	case s.events <- evt:
	default:
		s.logger.Warn("event buffer full, dropping fan-out event",
			slog.String("event", evt.Name))
	}
}

// Run drains the event queue until the context is cancelled, publishing each
// event to the bus, auditing it, and notifying operators where configured.
func (s *AuctionService) Run(ctx context.Context) error {
	s.logger.Info("auction service started")
	defer s.logger.Info("auction service stopped")

	// Make sure the opening batch exists in the database.
	s.persistBatch(ctx, s.mgr.CurrentBatch())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-s.events:
			s.fanOut(ctx, evt)
		}
	}
}

func (s *AuctionService) fanOut(ctx context.Context, evt domain.Event) {
	payload, err := json.Marshal(map[string]any{
		"event":     evt.Name,
		"batch_id":  evt.BatchID,
		"commit_id": evt.CommitID,
		"committer": evt.Committer,
		"phase":     string(evt.Phase),
		"detail":    evt.Detail,
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.Warn("marshal event failed", slog.String("error", err.Error()))
		return
	}

	if s.bus != nil {
		if err := s.bus.Publish(ctx, busChannel, payload); err != nil {
			s.logger.Warn("publish event failed",
				slog.String("event", evt.Name),
				slog.String("error", err.Error()))
		}
		if err := s.bus.StreamAppend(ctx, busStream, payload); err != nil {
			s.logger.Warn("stream append failed",
				slog.String("event", evt.Name),
				slog.String("error", err.Error()))
		}
	}

	if s.audit != nil {
		detail := map[string]any{
			"batch_id":  evt.BatchID,
			"commit_id": evt.CommitID,
			"committer": evt.Committer,
			"phase":     string(evt.Phase),
		}
		for k, v := range evt.Detail {
			detail[k] = v
		}
		if err := s.audit.Log(ctx, evt.Name, detail); err != nil {
			s.logger.Warn("audit log failed",
				slog.String("event", evt.Name),
				slog.String("error", err.Error()))
		}
	}

	// Slashes are only visible through events; settle the durable status
	// here too.
	if evt.Name == domain.EventCollateralSlashed && s.commitments != nil {
		if err := s.commitments.UpdateStatus(ctx, evt.CommitID, domain.CommitStatusSlashed); err != nil {
			s.logger.Warn("record slash failed",
				slog.Uint64("commit_id", evt.CommitID),
				slog.String("error", err.Error()))
		}
	}

	s.notify(ctx, evt)
}

func (s *AuctionService) notify(ctx context.Context, evt domain.Event) {
	if s.notifier == nil {
		return
	}
	var title, message string
	switch evt.Name {
	case domain.EventBatchSettled:
		title = fmt.Sprintf("Batch %d settled", evt.BatchID)
		message = fmt.Sprintf("clearing price %v, executed %v, skipped %v",
			evt.Detail["clearing_price"], evt.Detail["executed"], evt.Detail["skipped"])
	case domain.EventCollateralSlashed:
		title = fmt.Sprintf("Collateral slashed in batch %d", evt.BatchID)
		message = fmt.Sprintf("commit %d (%s): slashed %v, refunded %v",
			evt.CommitID, evt.Committer, evt.Detail["slashed"], evt.Detail["refunded"])
	default:
		return
	}
	if err := s.notifier.Notify(ctx, evt.Name, title, message); err != nil {
		s.logger.Warn("notify failed",
			slog.String("event", evt.Name),
			slog.String("error", err.Error()))
	}
}

// Commit escrows collateral against an order hash. Commits are rate limited
// per committer before they reach the engine. The durable record is written
// after the engine accepts; a store failure is logged but does not unwind the
// escrow.
func (s *AuctionService) Commit(ctx context.Context, committer, commitHash string, collateral uint64) (domain.OrderCommitment, error) {
	if s.limiter != nil && s.commitLimit > 0 {
		allowed, err := s.limiter.Allow(ctx, "commit:"+strings.ToLower(committer), s.commitLimit, time.Minute)
		if err != nil {
			// Fail open on limiter errors rather than blocking commits.
			s.logger.Warn("commit rate limiter failed",
				slog.String("committer", committer),
				slog.String("error", err.Error()))
		} else if !allowed {
			return domain.OrderCommitment{}, domain.ErrRateLimited
		}
	}

	rec, err := s.mgr.Commit(ctx, committer, commitHash, collateral)
	if err != nil {
		return domain.OrderCommitment{}, err
	}
	if s.commitments != nil {
		if err := s.commitments.Create(ctx, rec); err != nil {
			s.logger.Warn("persist commitment failed",
				slog.Uint64("commit_id", rec.CommitID),
				slog.String("error", err.Error()))
		}
	}
	return rec, nil
}

// Reveal discloses the order behind a commitment.
func (s *AuctionService) Reveal(ctx context.Context, commitID uint64, p auction.RevealParams) (domain.RevealedOrder, error) {
	order, err := s.mgr.Reveal(ctx, commitID, p)
	if err != nil {
		return domain.RevealedOrder{}, err
	}
	if s.commitments != nil {
		if err := s.commitments.UpdateStatus(ctx, commitID, domain.CommitStatusRevealed); err != nil {
			s.logger.Warn("persist reveal failed",
				slog.Uint64("commit_id", commitID),
				slog.String("error", err.Error()))
		}
	}
	return order, nil
}

// AdvancePhase moves the batch clock when its window has elapsed.
func (s *AuctionService) AdvancePhase(ctx context.Context) (domain.Batch, error) {
	batch, err := s.mgr.AdvancePhase(ctx)
	if err != nil {
		return domain.Batch{}, err
	}
	if s.batches != nil {
		if err := s.batches.UpdatePhase(ctx, batch.ID, batch.Phase, batch.PhaseStart); err != nil {
			s.logger.Warn("persist phase failed",
				slog.Uint64("batch_id", batch.ID),
				slog.String("error", err.Error()))
		}
	}
	return batch, nil
}

// SettleBatch settles the current batch, signs the report when an operator
// key is configured, and records the outcome.
func (s *AuctionService) SettleBatch(ctx context.Context) (domain.SettlementReport, error) {
	report, fills, err := s.mgr.SettleBatch(ctx)
	if err != nil {
		return domain.SettlementReport{}, err
	}

	if s.signer != nil {
		sig, err := s.signer.SignReport(crypto.ReportDigestFields{
			BatchID:       report.BatchID,
			ClearingPrice: report.ClearingPrice,
			MatchedVolume: report.MatchedVolume,
			TotalRefunded: report.TotalRefunded,
			TotalSlashed:  report.TotalSlashed,
		})
		if err != nil {
			s.logger.Warn("sign report failed",
				slog.Uint64("batch_id", report.BatchID),
				slog.String("error", err.Error()))
		} else {
			report.Signature = sig
		}
	}

	if s.settlements != nil {
		if err := s.settlements.Create(ctx, report, fills); err != nil {
			s.logger.Warn("persist settlement failed",
				slog.Uint64("batch_id", report.BatchID),
				slog.String("error", err.Error()))
		}
	}
	if s.batches != nil {
		if err := s.batches.MarkSettled(ctx, report.BatchID, report.SettledAt); err != nil {
			s.logger.Warn("mark batch settled failed",
				slog.Uint64("batch_id", report.BatchID),
				slog.String("error", err.Error()))
		}
	}
	if s.commitments != nil {
		for _, f := range fills {
			if f.Outcome != domain.FillExecuted {
				continue
			}
			if err := s.commitments.UpdateStatus(ctx, f.CommitID, domain.CommitStatusSettled); err != nil {
				s.logger.Warn("persist fill status failed",
					slog.Uint64("commit_id", f.CommitID),
					slog.String("error", err.Error()))
			}
		}
	}

	// Open the successor batch durably.
	s.persistBatch(ctx, s.mgr.CurrentBatch())

	return report, nil
}

func (s *AuctionService) persistBatch(ctx context.Context, batch domain.Batch) {
	if s.batches == nil {
		return
	}
	if existing, err := s.batches.GetByID(ctx, batch.ID); err == nil && existing.ID == batch.ID {
		return
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		s.logger.Warn("persist batch failed",
			slog.Uint64("batch_id", batch.ID),
			slog.String("error", err.Error()))
	}
}

// Phase returns the current phase.
func (s *AuctionService) Phase(ctx context.Context) (domain.Phase, error) {
	return s.mgr.Phase(), nil
}

// CurrentBatch returns the live batch from the engine.
func (s *AuctionService) CurrentBatch() domain.Batch {
	return s.mgr.CurrentBatch()
}

// RevealedCount reports the number of revealed orders in the current batch.
func (s *AuctionService) RevealedCount() int {
	return s.mgr.RevealedCount()
}

// GetCommitment looks up a commitment, preferring the live engine and
// falling back to the durable store for history.
func (s *AuctionService) GetCommitment(ctx context.Context, commitID uint64) (domain.OrderCommitment, error) {
	rec, err := s.mgr.GetCommitment(commitID)
	if err == nil {
		return rec, nil
	}
	if s.commitments == nil {
		return domain.OrderCommitment{}, err
	}
	return s.commitments.GetByID(ctx, commitID)
}

// GetSettlement returns the persisted report and fills of a settled batch.
func (s *AuctionService) GetSettlement(ctx context.Context, batchID uint64) (domain.SettlementReport, []domain.Fill, error) {
	if s.settlements == nil {
		return domain.SettlementReport{}, nil, domain.ErrNotFound
	}
	report, err := s.settlements.GetByBatch(ctx, batchID)
	if err != nil {
		return domain.SettlementReport{}, nil, err
	}
	fills, err := s.settlements.ListFills(ctx, batchID)
	if err != nil {
		return domain.SettlementReport{}, nil, err
	}
	return report, fills, nil
}

// ListRecentSettlements returns the newest settlement reports.
func (s *AuctionService) ListRecentSettlements(ctx context.Context, limit int) ([]domain.SettlementReport, error) {
	if s.settlements == nil {
		return nil, nil
	}
	return s.settlements.ListRecent(ctx, limit)
}
