package auction

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veilswap/veilswap/internal/crypto"
	"github.com/veilswap/veilswap/internal/domain"
)

// Config parameterises one auction market.
type Config struct {
	TokenBase         string
	TokenQuote        string
	CommitWindow      time.Duration
	RevealWindow      time.Duration
	MinCollateral     uint64
	SlashBps          uint64
	PriceToleranceBps uint64
	Beneficiary       string
}

// Manager is the authoritative auction state machine for a single market
// pair. All mutating entry points take its lock, so batch state is only ever
// observed between complete operations. Collaborators (pricing, custody,
// compliance) are injected; persistence and fan-out live a layer up in the
// service, driven by the event sink.
type Manager struct {
	mu sync.Mutex

	cfg      Config
	clock    *Clock
	ledger   *Ledger
	clearing *ClearingEngine
	executor *Executor

	revealed []domain.RevealedOrder
	secrets  [][]byte

	quoter  domain.PriceQuoter
	custody domain.Custody
	gate    domain.ComplianceGate // nil means open access
	sink    domain.EventSink      // nil means no events

	logger *slog.Logger
	now    func() time.Time
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithComplianceGate installs an eligibility check consulted at commit time.
func WithComplianceGate(gate domain.ComplianceGate) Option {
	return func(m *Manager) { m.gate = gate }
}

// WithEventSink installs a sink receiving lifecycle events synchronously
// under the manager lock.
func WithEventSink(sink domain.EventSink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithNow injects the time source. Tests use it to step the phase clock.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg Config, quoter domain.PriceQuoter, custody domain.Custody, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		ledger:   NewLedger(),
		clearing: NewClearingEngine(cfg.TokenBase, cfg.TokenQuote, cfg.PriceToleranceBps),
		executor: NewExecutor(cfg.TokenBase, cfg.TokenQuote, cfg.SlashBps, cfg.Beneficiary),
		quoter:   quoter,
		custody:  custody,
		logger:   logger.With("component", "auction"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.clock = NewClock(cfg.CommitWindow, cfg.RevealWindow, m.now())
	return m
}

// Commit escrows collateral against an opaque order hash and returns the
// assigned commit id. Accepted only while the current batch is in COMMIT.
func (m *Manager) Commit(ctx context.Context, committer, commitHash string, collateral uint64) (domain.OrderCommitment, error) {
	// Normalise the hash so the reveal-time string comparison is
	// insensitive to the caller's hex casing.
	rawHash, err := crypto.ParseHash(commitHash)
	if err != nil {
		return domain.OrderCommitment{}, fmt.Errorf("auction: commit: %w", err)
	}
	commitHash = "0x" + hex.EncodeToString(rawHash)
	if m.gate != nil {
		ok, err := m.gate.IsEligible(ctx, committer)
		if err != nil {
			return domain.OrderCommitment{}, fmt.Errorf("auction: eligibility check: %w", err)
		}
		if !ok {
			return domain.OrderCommitment{}, domain.ErrNotEligible
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	batch := m.clock.Current()
	if batch.Phase != domain.PhaseCommit {
		return domain.OrderCommitment{}, fmt.Errorf("auction: commit in %s phase: %w", batch.Phase, domain.ErrWrongPhase)
	}
	if collateral < m.cfg.MinCollateral {
		return domain.OrderCommitment{}, fmt.Errorf("auction: collateral %d below minimum %d: %w", collateral, m.cfg.MinCollateral, domain.ErrInsufficientCollateral)
	}
	if err := m.custody.EscrowCollateral(ctx, committer, collateral); err != nil {
		return domain.OrderCommitment{}, fmt.Errorf("auction: escrow collateral: %w", err)
	}

	rec := m.ledger.Append(committer, commitHash, collateral, batch.ID, m.now())
	m.logger.Info("order committed",
		"batch_id", batch.ID,
		"commit_id", rec.CommitID,
		"committer", committer,
		"collateral", collateral)
	m.emit(domain.Event{
		Name:      domain.EventOrderCommitted,
		BatchID:   batch.ID,
		CommitID:  rec.CommitID,
		Committer: committer,
		Phase:     batch.Phase,
	})
	return rec, nil
}

// Reveal discloses the order behind a commitment. The recomputed commitment
// hash must match exactly; on mismatch the commitment stays COMMITTED with
// collateral escrowed, since the penalty is for never revealing, not for a
// bad attempt.
func (m *Manager) Reveal(ctx context.Context, commitID uint64, p RevealParams) (domain.RevealedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := m.clock.Current()
	if batch.Phase != domain.PhaseReveal {
		return domain.RevealedOrder{}, fmt.Errorf("auction: reveal in %s phase: %w", batch.Phase, domain.ErrWrongPhase)
	}
	rec, err := m.ledger.Get(commitID)
	if err != nil {
		return domain.RevealedOrder{}, fmt.Errorf("auction: reveal commit %d: %w", commitID, err)
	}
	if rec.BatchID != batch.ID {
		return domain.RevealedOrder{}, fmt.Errorf("auction: commit %d belongs to batch %d: %w", commitID, rec.BatchID, domain.ErrWrongPhase)
	}
	if rec.Status != domain.CommitStatusCommitted {
		if rec.Status == domain.CommitStatusRevealed {
			return domain.RevealedOrder{}, fmt.Errorf("auction: commit %d: %w", commitID, domain.ErrAlreadyRevealed)
		}
		return domain.RevealedOrder{}, fmt.Errorf("auction: commit %d in status %s: %w", commitID, rec.Status, domain.ErrWrongPhase)
	}

	secret, err := validateReveal(rec, p, m.cfg.TokenBase, m.cfg.TokenQuote)
	if err != nil {
		return domain.RevealedOrder{}, err
	}
	if err := m.ledger.MarkRevealed(commitID, m.now()); err != nil {
		return domain.RevealedOrder{}, fmt.Errorf("auction: mark revealed: %w", err)
	}

	order := domain.RevealedOrder{
		CommitID:     commitID,
		Committer:    rec.Committer,
		TokenIn:      p.TokenIn,
		TokenOut:     p.TokenOut,
		AmountIn:     p.AmountIn,
		MinAmountOut: p.MinAmountOut,
		Secret:       p.Secret,
		PriorityBid:  p.PriorityBid,
	}
	m.revealed = append(m.revealed, order)
	m.secrets = append(m.secrets, secret)

	m.logger.Info("order revealed",
		"batch_id", batch.ID,
		"commit_id", commitID,
		"token_in", p.TokenIn,
		"amount_in", p.AmountIn)
	m.emit(domain.Event{
		Name:      domain.EventOrderRevealed,
		BatchID:   batch.ID,
		CommitID:  commitID,
		Committer: rec.Committer,
		Phase:     batch.Phase,
	})
	return order, nil
}

// AdvancePhase moves the batch clock forward once the current window has
// elapsed. Anyone may call it; an early call fails with ErrPhaseNotReady and
// changes nothing.
func (m *Manager) AdvancePhase(ctx context.Context) (domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, err := m.clock.Advance(m.now())
	if err != nil {
		return domain.Batch{}, fmt.Errorf("auction: advance phase: %w", err)
	}
	m.logger.Info("phase advanced", "batch_id", batch.ID, "phase", batch.Phase)
	m.emit(domain.Event{
		Name:    domain.EventPhaseAdvanced,
		BatchID: batch.ID,
		Phase:   batch.Phase,
	})
	return batch, nil
}

// SettleBatch clears, shuffles, and settles the current batch, then opens the
// next one. Valid only in SETTLING. If custody rejects the plan the batch is
// left untouched in SETTLING so settlement can be retried; nothing is
// half-applied.
func (m *Manager) SettleBatch(ctx context.Context) (domain.SettlementReport, []domain.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := m.clock.Current()
	if batch.Phase != domain.PhaseSettling {
		return domain.SettlementReport{}, nil, fmt.Errorf("auction: settle in %s phase: %w", batch.Phase, domain.ErrWrongPhase)
	}

	clearing, err := m.clearing.Clear(ctx, batch.ID, m.revealed, m.quoter)
	if err != nil {
		return domain.SettlementReport{}, nil, fmt.Errorf("auction: clearing: %w", err)
	}

	seed := crypto.ShuffleSeed(m.secrets, batch.ID)
	ordered := shuffleOrders(seed, m.revealed)

	now := m.now()
	outcome, err := m.executor.BuildPlan(ctx, batch.ID, clearing, ordered, m.ledger.Batch(batch.ID), m.custody, now)
	if err != nil {
		return domain.SettlementReport{}, nil, err
	}
	if err := m.custody.Apply(ctx, outcome.plan); err != nil {
		return domain.SettlementReport{}, nil, fmt.Errorf("auction: apply settlement: %w", err)
	}

	// Custody accepted the plan; commit every status transition and rotate.
	for commitID, status := range outcome.statuses {
		if err := m.ledger.Resolve(commitID, status, now); err != nil {
			return domain.SettlementReport{}, nil, fmt.Errorf("auction: resolve commit %d: %w", commitID, err)
		}
	}
	m.ledger.DropBatch(batch.ID)
	m.revealed = nil
	m.secrets = nil
	next := m.clock.Rotate(now)

	m.logger.Info("batch settled",
		"batch_id", batch.ID,
		"clearing_price", clearing.ClearingPrice.String(),
		"price_source", clearing.Source,
		"executed", outcome.report.ExecutedCount,
		"skipped", outcome.report.SkippedCount,
		"slashed", outcome.report.SlashedCount,
		"next_batch_id", next.ID)
	for _, mv := range outcome.plan.Collateral {
		if mv.Slashed > 0 {
			m.emit(domain.Event{
				Name:      domain.EventCollateralSlashed,
				BatchID:   batch.ID,
				CommitID:  mv.CommitID,
				Committer: mv.Committer,
				Detail:    map[string]any{"slashed": mv.Slashed, "refunded": mv.Refunded},
			})
		}
	}
	m.emit(domain.Event{
		Name:    domain.EventBatchSettled,
		BatchID: batch.ID,
		Phase:   next.Phase,
		Detail: map[string]any{
			"clearing_price": clearing.ClearingPrice.String(),
			"executed":       outcome.report.ExecutedCount,
			"skipped":        outcome.report.SkippedCount,
		},
	})
	return outcome.report, outcome.plan.Fills, nil
}

// CurrentBatch returns the batch the clock points at.
func (m *Manager) CurrentBatch() domain.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock.Current()
}

// Phase returns the current phase.
func (m *Manager) Phase() domain.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock.Current().Phase
}

// GetCommitment looks up a commitment by id.
func (m *Manager) GetCommitment(commitID uint64) (domain.OrderCommitment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Get(commitID)
}

// RevealedCount reports how many orders have revealed in the current batch.
func (m *Manager) RevealedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.revealed)
}

func (m *Manager) emit(evt domain.Event) {
	if m.sink != nil {
		m.sink.Emit(evt)
	}
}
