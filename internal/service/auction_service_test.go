package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veilswap/veilswap/internal/amm"
	"github.com/veilswap/veilswap/internal/auction"
	"github.com/veilswap/veilswap/internal/crypto"
	"github.com/veilswap/veilswap/internal/custody"
	"github.com/veilswap/veilswap/internal/domain"
)

const testOperatorKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// fakeCommitmentStore records status updates so tests can assert the durable
// trail without a database.
type fakeCommitmentStore struct {
	mu       sync.Mutex
	created  []domain.OrderCommitment
	statuses map[uint64]domain.CommitStatus
}

func newFakeCommitmentStore() *fakeCommitmentStore {
	return &fakeCommitmentStore{statuses: make(map[uint64]domain.CommitStatus)}
}

func (s *fakeCommitmentStore) Create(ctx context.Context, c domain.OrderCommitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, c)
	s.statuses[c.CommitID] = c.Status
	return nil
}

func (s *fakeCommitmentStore) UpdateStatus(ctx context.Context, commitID uint64, status domain.CommitStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[commitID] = status
	return nil
}

func (s *fakeCommitmentStore) GetByID(ctx context.Context, commitID uint64) (domain.OrderCommitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.created {
		if c.CommitID == commitID {
			c.Status = s.statuses[commitID]
			return c, nil
		}
	}
	return domain.OrderCommitment{}, domain.ErrNotFound
}

func (s *fakeCommitmentStore) ListByBatch(ctx context.Context, batchID uint64, opts domain.ListOpts) ([]domain.OrderCommitment, error) {
	return nil, nil
}

func (s *fakeCommitmentStore) ListByCommitter(ctx context.Context, committer string, opts domain.ListOpts) ([]domain.OrderCommitment, error) {
	return nil, nil
}

func (s *fakeCommitmentStore) status(commitID uint64) domain.CommitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[commitID]
}

type fakeBatchStore struct {
	mu      sync.Mutex
	batches map[uint64]domain.Batch
	settled map[uint64]time.Time
}

func newFakeBatchStore() *fakeBatchStore {
	return &fakeBatchStore{
		batches: make(map[uint64]domain.Batch),
		settled: make(map[uint64]time.Time),
	}
}

func (s *fakeBatchStore) Create(ctx context.Context, b domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b
	return nil
}

func (s *fakeBatchStore) UpdatePhase(ctx context.Context, batchID uint64, phase domain.Phase, phaseStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return domain.ErrNotFound
	}
	b.Phase = phase
	b.PhaseStart = phaseStart
	s.batches[batchID] = b
	return nil
}

func (s *fakeBatchStore) MarkSettled(ctx context.Context, batchID uint64, settledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled[batchID] = settledAt
	return nil
}

func (s *fakeBatchStore) GetByID(ctx context.Context, batchID uint64) (domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return domain.Batch{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *fakeBatchStore) GetLatest(ctx context.Context) (domain.Batch, error) {
	return domain.Batch{}, domain.ErrNotFound
}

type fakeSettlementStore struct {
	mu      sync.Mutex
	reports []domain.SettlementReport
	fills   map[uint64][]domain.Fill
}

func newFakeSettlementStore() *fakeSettlementStore {
	return &fakeSettlementStore{fills: make(map[uint64][]domain.Fill)}
}

func (s *fakeSettlementStore) Create(ctx context.Context, report domain.SettlementReport, fills []domain.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	s.fills[report.BatchID] = fills
	return nil
}

func (s *fakeSettlementStore) GetByBatch(ctx context.Context, batchID uint64) (domain.SettlementReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.BatchID == batchID {
			return r, nil
		}
	}
	return domain.SettlementReport{}, domain.ErrNotFound
}

func (s *fakeSettlementStore) ListFills(ctx context.Context, batchID uint64) ([]domain.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fills[batchID], nil
}

func (s *fakeSettlementStore) ListRecent(ctx context.Context, limit int) ([]domain.SettlementReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SettlementReport(nil), s.reports...), nil
}

// fakeBus captures published payloads per channel and stream.
type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		streamed:  make(map[string][][]byte),
	}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	return ch, nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) publishedCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

// fakeLimiter counts calls per key and allows until the limit is reached.
type fakeLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{counts: make(map[string]int)}
}

func (l *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	return l.counts[key] <= limit, nil
}

type svcRig struct {
	svc     *AuctionService
	vault   *custody.Vault
	commits *fakeCommitmentStore
	batches *fakeBatchStore
	reports *fakeSettlementStore
	bus     *fakeBus
	limiter *fakeLimiter
	now     time.Time
}

func newSvcRig(t *testing.T) *svcRig {
	t.Helper()

	pool, err := amm.NewPool("WETH", "USDC", 1_000_000_000, 2_000_000_000, 0)
	require.NoError(t, err)

	signer, err := crypto.NewSigner(testOperatorKey)
	require.NoError(t, err)

	rig := &svcRig{
		vault:   custody.NewVault("USDC"),
		commits: newFakeCommitmentStore(),
		batches: newFakeBatchStore(),
		reports: newFakeSettlementStore(),
		bus:     newFakeBus(),
		limiter: newFakeLimiter(),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rig.svc = NewAuctionService(
		auction.Config{
			TokenBase:     "WETH",
			TokenQuote:    "USDC",
			CommitWindow:  time.Minute,
			RevealWindow:  time.Minute,
			MinCollateral: 100,
			SlashBps:      5_000,
			Beneficiary:   "treasury",
		},
		pool,
		rig.vault,
		Stores{
			Commitments: rig.commits,
			Batches:     rig.batches,
			Settlements: rig.reports,
			Audit:       nil,
		},
		rig.bus,
		signer,
		nil,
		rig.limiter,
		10,
		logger,
		auction.WithNow(func() time.Time { return rig.now }),
	)
	return rig
}

func (r *svcRig) commitOrder(t *testing.T, committer string, payload crypto.CommitPayload, secret []byte) domain.OrderCommitment {
	t.Helper()
	hash, err := crypto.CommitHash(payload, secret)
	require.NoError(t, err)
	rec, err := r.svc.Commit(context.Background(), committer, hash, 1_000)
	require.NoError(t, err)
	return rec
}

func testOrderSecret(fill byte) []byte {
	s := make([]byte, crypto.SecretLen)
	for i := range s {
		s[i] = fill
	}
	return s
}

func secretHex(secret []byte) string {
	const hexdigits = "0123456789abcdef"
	var sb strings.Builder
	sb.WriteString("0x")
	for _, b := range secret {
		sb.WriteByte(hexdigits[b>>4])
		sb.WriteByte(hexdigits[b&0x0f])
	}
	return sb.String()
}

func TestCommitPersistsRecord(t *testing.T) {
	rig := newSvcRig(t)
	rig.vault.Deposit("alice", "USDC", 1_000_000)

	rec := rig.commitOrder(t, "alice", crypto.CommitPayload{
		TokenIn:      "USDC",
		TokenOut:     "WETH",
		AmountIn:     200,
		MinAmountOut: 50,
	}, testOrderSecret(0x11))

	require.Len(t, rig.commits.created, 1)
	require.Equal(t, rec.CommitID, rig.commits.created[0].CommitID)
	require.Equal(t, domain.CommitStatusCommitted, rig.commits.status(rec.CommitID))
}

func TestRevealUpdatesStoredStatus(t *testing.T) {
	rig := newSvcRig(t)
	rig.vault.Deposit("alice", "USDC", 1_000_000)

	secret := testOrderSecret(0x22)
	payload := crypto.CommitPayload{TokenIn: "USDC", TokenOut: "WETH", AmountIn: 200, MinAmountOut: 50}
	rec := rig.commitOrder(t, "alice", payload, secret)

	rig.now = rig.now.Add(61 * time.Second)
	_, err := rig.svc.AdvancePhase(context.Background())
	require.NoError(t, err)

	_, err = rig.svc.Reveal(context.Background(), rec.CommitID, auction.RevealParams{
		TokenIn:      payload.TokenIn,
		TokenOut:     payload.TokenOut,
		AmountIn:     payload.AmountIn,
		MinAmountOut: payload.MinAmountOut,
		Secret:       secretHex(secret),
	})
	require.NoError(t, err)
	require.Equal(t, domain.CommitStatusRevealed, rig.commits.status(rec.CommitID))
}

func TestSettleBatchSignsAndPersistsReport(t *testing.T) {
	rig := newSvcRig(t)
	ctx := context.Background()
	rig.vault.Deposit("alice", "USDC", 1_000_000)

	secret := testOrderSecret(0x33)
	payload := crypto.CommitPayload{TokenIn: "USDC", TokenOut: "WETH", AmountIn: 200, MinAmountOut: 50}
	rec := rig.commitOrder(t, "alice", payload, secret)

	rig.now = rig.now.Add(61 * time.Second)
	_, err := rig.svc.AdvancePhase(ctx)
	require.NoError(t, err)
	_, err = rig.svc.Reveal(ctx, rec.CommitID, auction.RevealParams{
		TokenIn:      payload.TokenIn,
		TokenOut:     payload.TokenOut,
		AmountIn:     payload.AmountIn,
		MinAmountOut: payload.MinAmountOut,
		Secret:       secretHex(secret),
	})
	require.NoError(t, err)

	rig.now = rig.now.Add(61 * time.Second)
	_, err = rig.svc.AdvancePhase(ctx)
	require.NoError(t, err)

	report, err := rig.svc.SettleBatch(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, report.Signature)

	signer, err := crypto.NewSigner(testOperatorKey)
	require.NoError(t, err)
	ok, err := crypto.VerifyReport(crypto.ReportDigestFields{
		BatchID:       report.BatchID,
		ClearingPrice: report.ClearingPrice,
		MatchedVolume: report.MatchedVolume,
		TotalRefunded: report.TotalRefunded,
		TotalSlashed:  report.TotalSlashed,
	}, report.Signature, signer.Address())
	require.NoError(t, err)
	require.True(t, ok)

	// The report was persisted with its signature and the batch marked
	// settled; the executed fill reached terminal status in the store.
	require.Len(t, rig.reports.reports, 1)
	require.Equal(t, report.Signature, rig.reports.reports[0].Signature)
	require.Contains(t, rig.batches.settled, report.BatchID)
	require.Equal(t, domain.CommitStatusSettled, rig.commits.status(rec.CommitID))

	// The successor batch was opened durably.
	_, err = rig.batches.GetByID(ctx, report.BatchID+1)
	require.NoError(t, err)
}

func TestRunFansOutEvents(t *testing.T) {
	rig := newSvcRig(t)
	rig.vault.Deposit("alice", "USDC", 1_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rig.svc.Run(ctx)
	}()

	rig.commitOrder(t, "alice", crypto.CommitPayload{
		TokenIn:      "USDC",
		TokenOut:     "WETH",
		AmountIn:     200,
		MinAmountOut: 50,
	}, testOrderSecret(0x44))

	require.Eventually(t, func() bool {
		return rig.bus.publishedCount("auction.events") >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestCommitRateLimitedPerCommitter(t *testing.T) {
	rig := newSvcRig(t)
	rig.vault.Deposit("alice", "USDC", 1_000_000)
	rig.vault.Deposit("bob", "USDC", 1_000_000)

	// Exhaust alice's budget; bob is unaffected.
	rig.limiter.mu.Lock()
	rig.limiter.counts["commit:alice"] = 10
	rig.limiter.mu.Unlock()

	hash, err := crypto.CommitHash(crypto.CommitPayload{
		TokenIn:      "USDC",
		TokenOut:     "WETH",
		AmountIn:     200,
		MinAmountOut: 50,
	}, testOrderSecret(0x55))
	require.NoError(t, err)

	_, err = rig.svc.Commit(context.Background(), "alice", hash, 1_000)
	require.ErrorIs(t, err, domain.ErrRateLimited)
	require.Empty(t, rig.commits.created)

	_, err = rig.svc.Commit(context.Background(), "bob", hash, 1_000)
	require.NoError(t, err)
}

func TestGetCommitmentFallsBackToStore(t *testing.T) {
	rig := newSvcRig(t)

	// Not in the live ledger, only in the store.
	stored := domain.OrderCommitment{CommitID: 99, Committer: "bob", BatchID: 1, Status: domain.CommitStatusSettled}
	require.NoError(t, rig.commits.Create(context.Background(), stored))

	got, err := rig.svc.GetCommitment(context.Background(), 99)
	require.NoError(t, err)
	require.Equal(t, "bob", got.Committer)
}
