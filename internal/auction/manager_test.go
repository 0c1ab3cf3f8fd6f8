package auction

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sort"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/veilswap/veilswap/internal/crypto"
	"github.com/veilswap/veilswap/internal/custody"
	"github.com/veilswap/veilswap/internal/domain"
)

const (
	testCollateralToken = "USDC"
	testBeneficiary     = "0xbeneficiary"
	testMinCollateral   = 1_000
	testCollateral      = 1_000_000 // "1.0" in six-decimal units
)

type testRig struct {
	t       *testing.T
	mgr     *Manager
	vault   *custody.Vault
	quoter  *fixedQuoter
	now     time.Time
	commits int
}

func newTestRig(t *testing.T, opts ...Option) *testRig {
	t.Helper()
	rig := &testRig{
		t:      t,
		vault:  custody.NewVault(testCollateralToken),
		quoter: &fixedQuoter{spot: price(2, 1)},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg := Config{
		TokenBase:     testBase,
		TokenQuote:    testQuote,
		CommitWindow:  time.Minute,
		RevealWindow:  time.Minute,
		MinCollateral: testMinCollateral,
		SlashBps:      5_000,
		Beneficiary:   testBeneficiary,
	}
	opts = append([]Option{WithNow(func() time.Time { return rig.now })}, opts...)
	rig.mgr = NewManager(cfg, rig.quoter, rig.vault,
		slog.New(slog.NewTextHandler(testWriter{t}, nil)), opts...)
	return rig
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func (r *testRig) advance(d time.Duration) {
	r.now = r.now.Add(d)
}

// fund gives the account collateral plus a trading balance in both tokens.
func (r *testRig) fund(account string) {
	r.vault.Deposit(account, testQuote, 100_000_000)
	r.vault.Deposit(account, testBase, 100_000_000)
}

func (r *testRig) secret() []byte {
	r.commits++
	s := ethcrypto.Keccak256([]byte{byte(r.commits)})
	return s
}

// commitOrder commits an order and returns its id and secret.
func (r *testRig) commitOrder(account string, p crypto.CommitPayload, collateral uint64) (uint64, []byte) {
	r.t.Helper()
	secret := r.secret()
	hash, err := crypto.CommitHash(p, secret)
	require.NoError(r.t, err)
	rec, err := r.mgr.Commit(context.Background(), account, hash, collateral)
	require.NoError(r.t, err)
	return rec.CommitID, secret
}

func (r *testRig) reveal(commitID uint64, p crypto.CommitPayload, secret []byte, priorityBid uint64) error {
	_, err := r.mgr.Reveal(context.Background(), commitID, RevealParams{
		TokenIn:      p.TokenIn,
		TokenOut:     p.TokenOut,
		AmountIn:     p.AmountIn,
		MinAmountOut: p.MinAmountOut,
		Secret:       "0x" + hex.EncodeToString(secret),
		PriorityBid:  priorityBid,
	})
	return err
}

func (r *testRig) toReveal() {
	r.t.Helper()
	r.advance(time.Minute)
	_, err := r.mgr.AdvancePhase(context.Background())
	require.NoError(r.t, err)
}

func (r *testRig) toSettling() {
	r.t.Helper()
	r.advance(time.Minute)
	_, err := r.mgr.AdvancePhase(context.Background())
	require.NoError(r.t, err)
}

func buyPayload(amountQuote, minBase uint64) crypto.CommitPayload {
	return crypto.CommitPayload{TokenIn: testQuote, TokenOut: testBase, AmountIn: amountQuote, MinAmountOut: minBase}
}

func sellPayload(amountBase, minQuote uint64) crypto.CommitPayload {
	return crypto.CommitPayload{TokenIn: testBase, TokenOut: testQuote, AmountIn: amountBase, MinAmountOut: minQuote}
}

func TestCommitPhaseAndCollateralChecks(t *testing.T) {
	rig := newTestRig(t)
	rig.fund("alice")

	hash, err := crypto.CommitHash(buyPayload(300, 100), rig.secret())
	require.NoError(t, err)

	_, err = rig.mgr.Commit(context.Background(), "alice", hash, testMinCollateral-1)
	require.ErrorIs(t, err, domain.ErrInsufficientCollateral)

	_, err = rig.mgr.Commit(context.Background(), "alice", "not-a-hash", testCollateral)
	require.Error(t, err)

	rig.toReveal()
	_, err = rig.mgr.Commit(context.Background(), "alice", hash, testCollateral)
	require.ErrorIs(t, err, domain.ErrWrongPhase)
}

func TestCommitEscrowsCollateral(t *testing.T) {
	rig := newTestRig(t)
	rig.fund("alice")
	before := rig.vault.Balance("alice", testCollateralToken)

	rig.commitOrder("alice", buyPayload(300, 100), testCollateral)

	require.Equal(t, before-testCollateral, rig.vault.Balance("alice", testCollateralToken))
	require.Equal(t, uint64(testCollateral), rig.vault.Escrowed("alice"))
}

func TestRevealHashBinding(t *testing.T) {
	rig := newTestRig(t)
	rig.fund("alice")

	payload := buyPayload(300, 100)
	id, secret := rig.commitOrder("alice", payload, testCollateral)
	rig.toReveal()

	// Wrong secret: single flipped bit.
	bad := make([]byte, len(secret))
	copy(bad, secret)
	bad[0] ^= 1
	err := rig.reveal(id, payload, bad, 0)
	require.ErrorIs(t, err, domain.ErrInvalidReveal)

	// Wrong order contents under the right secret.
	err = rig.reveal(id, buyPayload(301, 100), secret, 0)
	require.ErrorIs(t, err, domain.ErrInvalidReveal)

	// Commitment is still open and collateral still escrowed.
	rec, err := rig.mgr.GetCommitment(id)
	require.NoError(t, err)
	require.Equal(t, domain.CommitStatusCommitted, rec.Status)
	require.Equal(t, uint64(testCollateral), rig.vault.Escrowed("alice"))

	// The exact committed order and secret succeed.
	require.NoError(t, rig.reveal(id, payload, secret, 0))
	rec, err = rig.mgr.GetCommitment(id)
	require.NoError(t, err)
	require.Equal(t, domain.CommitStatusRevealed, rec.Status)
}

func TestRevealAntiReplay(t *testing.T) {
	rig := newTestRig(t)
	rig.fund("alice")

	payload := sellPayload(100, 150)
	id, secret := rig.commitOrder("alice", payload, testCollateral)
	rig.toReveal()

	require.NoError(t, rig.reveal(id, payload, secret, 0))
	err := rig.reveal(id, payload, secret, 0)
	require.ErrorIs(t, err, domain.ErrAlreadyRevealed)
}

func TestRevealUnknownAndWrongPhase(t *testing.T) {
	rig := newTestRig(t)
	rig.fund("alice")

	payload := buyPayload(300, 100)
	id, secret := rig.commitOrder("alice", payload, testCollateral)

	// Still in COMMIT.
	err := rig.reveal(id, payload, secret, 0)
	require.ErrorIs(t, err, domain.ErrWrongPhase)

	rig.toReveal()
	err = rig.reveal(id+100, payload, secret, 0)
	require.ErrorIs(t, err, domain.ErrUnknownCommitment)
}

func TestAdvancePhaseNotReady(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.mgr.AdvancePhase(context.Background())
	require.ErrorIs(t, err, domain.ErrPhaseNotReady)

	rig.advance(time.Minute)
	batch, err := rig.mgr.AdvancePhase(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.PhaseReveal, batch.Phase)

	// Second call before the reveal window elapses has no effect.
	_, err = rig.mgr.AdvancePhase(context.Background())
	require.ErrorIs(t, err, domain.ErrPhaseNotReady)
	require.Equal(t, domain.PhaseReveal, rig.mgr.Phase())
}

func TestSettleRequiresSettlingPhase(t *testing.T) {
	rig := newTestRig(t)
	_, _, err := rig.mgr.SettleBatch(context.Background())
	require.ErrorIs(t, err, domain.ErrWrongPhase)
}

// TestSettleFullCycle walks one complete batch: a buy and a sell that cross,
// both executed at the uniform clearing price, full collateral refunds, and
// the clock rotated to batch 2.
func TestSettleFullCycle(t *testing.T) {
	rig := newTestRig(t)
	rig.fund("alice")
	rig.fund("bob")

	buyP := buyPayload(300, 100) // alice pays up to 3 quote per base
	sellP := sellPayload(100, 200) // bob accepts down to 2
	buyID, buySecret := rig.commitOrder("alice", buyP, testCollateral)
	sellID, sellSecret := rig.commitOrder("bob", sellP, testCollateral)

	rig.toReveal()
	require.NoError(t, rig.reveal(buyID, buyP, buySecret, 0))
	require.NoError(t, rig.reveal(sellID, sellP, sellSecret, 0))

	rig.toSettling()
	aliceQuote := rig.vault.Balance("alice", testQuote)
	bobBase := rig.vault.Balance("bob", testBase)

	report, fills, err := rig.mgr.SettleBatch(context.Background())
	require.NoError(t, err)

	require.Equal(t, uint64(1), report.BatchID)
	require.Equal(t, domain.PriceSourceCross, report.PriceSource)
	require.Equal(t, 0, report.ClearingPrice.Cmp(price(2, 1)))
	require.Equal(t, 2, report.ExecutedCount)
	require.Zero(t, report.SkippedCount)
	require.Zero(t, report.SlashedCount)
	require.Equal(t, report.TotalCollateral, report.TotalRefunded)
	require.Zero(t, report.TotalSlashed)

	require.Len(t, fills, 2)
	for _, f := range fills {
		require.Equal(t, domain.FillExecuted, f.Outcome)
	}

	// Uniform price of 2: alice's 300 quote buys 150 base, bob's 100 base
	// sells for 200 quote.
	require.Equal(t, aliceQuote-300, rig.vault.Balance("alice", testQuote))
	require.Equal(t, bobBase-100, rig.vault.Balance("bob", testBase))

	// Full refunds, escrow drained, terminal statuses.
	require.Zero(t, rig.vault.Escrowed("alice"))
	require.Zero(t, rig.vault.Escrowed("bob"))
	for _, id := range []uint64{buyID, sellID} {
		rec, err := rig.mgr.GetCommitment(id)
		require.NoError(t, err)
		require.Equal(t, domain.CommitStatusSettled, rec.Status)
	}

	next := rig.mgr.CurrentBatch()
	require.Equal(t, uint64(2), next.ID)
	require.Equal(t, domain.PhaseCommit, next.Phase)
}

// TestSlashOnNonReveal covers the never-revealed path: half the collateral
// goes to the beneficiary, half back to the committer, status SLASHED.
func TestSlashOnNonReveal(t *testing.T) {
	rig := newTestRig(t)
	rig.fund("alice")

	id, _ := rig.commitOrder("alice", buyPayload(300, 100), testCollateral)
	balanceAfterCommit := rig.vault.Balance("alice", testCollateralToken)

	rig.toReveal()
	rig.toSettling()
	report, _, err := rig.mgr.SettleBatch(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, report.SlashedCount)
	require.Equal(t, uint64(testCollateral), report.TotalCollateral)
	require.Equal(t, uint64(testCollateral/2), report.TotalSlashed)
	require.Equal(t, uint64(testCollateral/2), report.TotalRefunded)

	rec, err := rig.mgr.GetCommitment(id)
	require.NoError(t, err)
	require.Equal(t, domain.CommitStatusSlashed, rec.Status)

	require.Equal(t, balanceAfterCommit+testCollateral/2, rig.vault.Balance("alice", testCollateralToken))
	require.Equal(t, uint64(testCollateral/2), rig.vault.Balance(testBeneficiary, testCollateralToken))
	require.Zero(t, rig.vault.Escrowed("alice"))
}

// TestSlippageSkip covers a revealed order whose minimum out cannot be met at
// the clearing price: it is skipped with a full refund while the rest of the
// batch settles.
func TestSlippageSkip(t *testing.T) {
	rig := newTestRig(t)
	for _, a := range []string{"alice", "bob", "carol"} {
		rig.fund(a)
	}

	buyP := buyPayload(300, 100)  // limit 3
	sellP := sellPayload(100, 200) // limit 2
	// carol's buy demands 400 base for 300 quote, a price of 0.75 — far
	// below anything the sell side accepts.
	greedyP := buyPayload(300, 400)

	buyID, buySecret := rig.commitOrder("alice", buyP, testCollateral)
	sellID, sellSecret := rig.commitOrder("bob", sellP, testCollateral)
	greedyID, greedySecret := rig.commitOrder("carol", greedyP, testCollateral)

	rig.toReveal()
	require.NoError(t, rig.reveal(buyID, buyP, buySecret, 0))
	require.NoError(t, rig.reveal(sellID, sellP, sellSecret, 0))
	require.NoError(t, rig.reveal(greedyID, greedyP, greedySecret, 0))

	rig.toSettling()
	report, fills, err := rig.mgr.SettleBatch(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, report.ExecutedCount)
	require.Equal(t, 1, report.SkippedCount)
	require.Equal(t, report.TotalCollateral, report.TotalRefunded)

	var greedyFill *domain.Fill
	for i := range fills {
		if fills[i].CommitID == greedyID {
			greedyFill = &fills[i]
		}
	}
	require.NotNil(t, greedyFill)
	require.Equal(t, domain.FillSkippedSlippage, greedyFill.Outcome)

	rec, err := rig.mgr.GetCommitment(greedyID)
	require.NoError(t, err)
	require.Equal(t, domain.CommitStatusRevealed, rec.Status)
	require.Zero(t, rig.vault.Escrowed("carol"))
}

// TestSharedBalanceSkipsSecondOrder covers one committer revealing two buys
// that each fit the spendable balance alone but not together: the first in
// execution order settles, the second is skipped for balance with a full
// refund, and the batch clears in a single pass instead of wedging custody.
func TestSharedBalanceSkipsSecondOrder(t *testing.T) {
	rig := newTestRig(t)
	rig.fund("bob")
	// alice holds exactly two collaterals plus one order's quote amount.
	rig.vault.Deposit("alice", testQuote, 2*testCollateral+300)

	buyA := buyPayload(300, 100)
	buyB := buyPayload(300, 100)
	sellP := sellPayload(300, 600)
	idA, secA := rig.commitOrder("alice", buyA, testCollateral)
	idB, secB := rig.commitOrder("alice", buyB, testCollateral)
	sellID, sellSec := rig.commitOrder("bob", sellP, testCollateral)

	rig.toReveal()
	require.NoError(t, rig.reveal(idA, buyA, secA, 0))
	require.NoError(t, rig.reveal(idB, buyB, secB, 0))
	require.NoError(t, rig.reveal(sellID, sellP, sellSec, 0))

	rig.toSettling()
	report, fills, err := rig.mgr.SettleBatch(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, report.ExecutedCount)
	require.Equal(t, 1, report.SkippedCount)
	require.Equal(t, report.TotalCollateral, report.TotalRefunded)

	outcomes := make(map[domain.FillOutcome]int)
	for _, f := range fills {
		if f.Committer == "alice" {
			outcomes[f.Outcome]++
		}
	}
	require.Equal(t, 1, outcomes[domain.FillExecuted])
	require.Equal(t, 1, outcomes[domain.FillSkippedBalance])

	// One buy of 300 quote executed at price 2; both collaterals refunded.
	require.Equal(t, uint64(2*testCollateral), rig.vault.Balance("alice", testQuote))
	require.Equal(t, uint64(150), rig.vault.Balance("alice", testBase))
	require.Zero(t, rig.vault.Escrowed("alice"))

	// The machine cycled instead of sticking in SETTLING.
	require.Equal(t, domain.PhaseCommit, rig.mgr.Phase())
	require.Equal(t, uint64(2), rig.mgr.CurrentBatch().ID)
}

// TestSlashLargeCollateral pins the slash fraction for collateral big enough
// that the naive basis-point product would overflow uint64.
func TestSlashLargeCollateral(t *testing.T) {
	rig := newTestRig(t)
	huge := uint64(1) << 60
	rig.vault.Deposit("whale", testQuote, huge)

	id, _ := rig.commitOrder("whale", buyPayload(300, 100), huge)

	rig.toReveal()
	rig.toSettling()
	report, _, err := rig.mgr.SettleBatch(context.Background())
	require.NoError(t, err)

	require.Equal(t, huge, report.TotalCollateral)
	require.Equal(t, huge/2, report.TotalSlashed)
	require.Equal(t, huge/2, report.TotalRefunded)

	rec, err := rig.mgr.GetCommitment(id)
	require.NoError(t, err)
	require.Equal(t, domain.CommitStatusSlashed, rec.Status)
}

// TestUniformPrice verifies every executed fill in a mixed batch realises
// exactly the batch clearing price.
func TestUniformPrice(t *testing.T) {
	rig := newTestRig(t)
	accounts := []string{"a1", "a2", "a3", "a4"}
	for _, a := range accounts {
		rig.fund(a)
	}

	payloads := []crypto.CommitPayload{
		buyPayload(300, 100),
		buyPayload(500, 0),
		sellPayload(100, 200),
		sellPayload(150, 300),
	}
	ids := make([]uint64, len(payloads))
	secrets := make([][]byte, len(payloads))
	for i, p := range payloads {
		ids[i], secrets[i] = rig.commitOrder(accounts[i], p, testCollateral)
	}
	rig.toReveal()
	for i, p := range payloads {
		require.NoError(t, rig.reveal(ids[i], p, secrets[i], 0))
	}
	rig.toSettling()

	report, fills, err := rig.mgr.SettleBatch(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, report.ExecutedCount, 2)

	for _, f := range fills {
		if f.Outcome != domain.FillExecuted {
			continue
		}
		var got uint64
		if f.TokenIn == testQuote {
			got = clampUint64(buyOut(f.AmountIn, report.ClearingPrice))
		} else {
			got = clampUint64(sellOut(f.AmountIn, report.ClearingPrice))
		}
		require.Equal(t, got, f.AmountOut, "fill %d not at the uniform price", f.CommitID)
	}
}

// failingCustody wraps a Vault and rejects Apply a configurable number of
// times, simulating a transient custody outage.
type failingCustody struct {
	*custody.Vault
	failures int
}

func (c *failingCustody) Apply(ctx context.Context, plan domain.SettlementPlan) error {
	if c.failures > 0 {
		c.failures--
		return errors.New("custody unavailable")
	}
	return c.Vault.Apply(ctx, plan)
}

func TestCustodyFailureAbortsAndRetries(t *testing.T) {
	rig := newTestRig(t)
	rig.fund("alice")
	rig.fund("bob")

	vault := &failingCustody{Vault: rig.vault, failures: 1}
	cfg := Config{
		TokenBase:     testBase,
		TokenQuote:    testQuote,
		CommitWindow:  time.Minute,
		RevealWindow:  time.Minute,
		MinCollateral: testMinCollateral,
		SlashBps:      5_000,
		Beneficiary:   testBeneficiary,
	}
	rig.mgr = NewManager(cfg, rig.quoter, vault,
		slog.New(slog.NewTextHandler(testWriter{t}, nil)),
		WithNow(func() time.Time { return rig.now }))

	buyP := buyPayload(300, 100)
	sellP := sellPayload(100, 200)
	buyID, buySecret := rig.commitOrder("alice", buyP, testCollateral)
	sellID, sellSecret := rig.commitOrder("bob", sellP, testCollateral)
	rig.toReveal()
	require.NoError(t, rig.reveal(buyID, buyP, buySecret, 0))
	require.NoError(t, rig.reveal(sellID, sellP, sellSecret, 0))
	rig.toSettling()

	_, _, err := rig.mgr.SettleBatch(context.Background())
	require.Error(t, err)

	// Nothing moved: still SETTLING, statuses intact, escrow intact.
	require.Equal(t, domain.PhaseSettling, rig.mgr.Phase())
	rec, err := rig.mgr.GetCommitment(buyID)
	require.NoError(t, err)
	require.Equal(t, domain.CommitStatusRevealed, rec.Status)
	require.Equal(t, uint64(testCollateral), rig.vault.Escrowed("alice"))

	// A retry after the outage settles normally.
	report, _, err := rig.mgr.SettleBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.ExecutedCount)
	require.Equal(t, uint64(2), rig.mgr.CurrentBatch().ID)
}

// TestSettlementArrivalOrderIndependence settles the same batch twice with
// reveals arriving in opposite orders and requires identical outcomes.
func TestSettlementArrivalOrderIndependence(t *testing.T) {
	run := func(reversed bool) (domain.SettlementReport, []domain.Fill) {
		rig := newTestRig(t)
		accounts := []string{"a1", "a2", "a3", "a4"}
		for _, a := range accounts {
			rig.fund(a)
		}
		payloads := []crypto.CommitPayload{
			buyPayload(300, 100),
			buyPayload(240, 80),
			sellPayload(100, 200),
			sellPayload(90, 180),
		}
		ids := make([]uint64, len(payloads))
		secrets := make([][]byte, len(payloads))
		for i, p := range payloads {
			ids[i], secrets[i] = rig.commitOrder(accounts[i], p, testCollateral)
		}
		rig.toReveal()
		idx := []int{0, 1, 2, 3}
		if reversed {
			idx = []int{3, 2, 1, 0}
		}
		for _, i := range idx {
			require.NoError(t, rig.reveal(ids[i], payloads[i], secrets[i], 0))
		}
		rig.toSettling()
		report, fills, err := rig.mgr.SettleBatch(context.Background())
		require.NoError(t, err)
		sort.Slice(fills, func(i, j int) bool { return fills[i].CommitID < fills[j].CommitID })
		return report, fills
	}

	reportA, fillsA := run(false)
	reportB, fillsB := run(true)

	require.Equal(t, 0, reportA.ClearingPrice.Cmp(reportB.ClearingPrice))
	require.Equal(t, reportA.MatchedVolume, reportB.MatchedVolume)
	require.Equal(t, reportA.ExecutedCount, reportB.ExecutedCount)
	require.Equal(t, fillsA, fillsB)
}

// TestCollateralConservation mixes executed, skipped, and slashed
// commitments and checks no collateral is created or destroyed.
func TestCollateralConservation(t *testing.T) {
	rig := newTestRig(t)
	accounts := []string{"a1", "a2", "a3", "a4", "a5"}
	for _, a := range accounts {
		rig.fund(a)
	}

	payloads := []crypto.CommitPayload{
		buyPayload(300, 100),
		sellPayload(100, 200),
		buyPayload(300, 400), // slippage skip
		buyPayload(10, 5),
		sellPayload(7, 14),
	}
	collaterals := []uint64{testCollateral, 2 * testCollateral, testMinCollateral, 3_333, 777_777}
	ids := make([]uint64, len(payloads))
	secrets := make([][]byte, len(payloads))
	for i, p := range payloads {
		ids[i], secrets[i] = rig.commitOrder(accounts[i], p, collaterals[i])
	}
	rig.toReveal()
	// a5 never reveals and will be slashed.
	for i := 0; i < 4; i++ {
		require.NoError(t, rig.reveal(ids[i], payloads[i], secrets[i], 0))
	}
	rig.toSettling()

	report, _, err := rig.mgr.SettleBatch(context.Background())
	require.NoError(t, err)

	var committed uint64
	for _, c := range collaterals {
		committed += c
	}
	require.Equal(t, committed, report.TotalCollateral)
	require.Equal(t, committed, report.TotalRefunded+report.TotalSlashed)
	require.Equal(t, 1, report.SlashedCount)
	for _, a := range accounts {
		require.Zero(t, rig.vault.Escrowed(a))
	}
}

func TestSlashDisabledExpiresCommitment(t *testing.T) {
	rig := newTestRig(t)
	rig.fund("alice")
	cfg := Config{
		TokenBase:     testBase,
		TokenQuote:    testQuote,
		CommitWindow:  time.Minute,
		RevealWindow:  time.Minute,
		MinCollateral: testMinCollateral,
		SlashBps:      0,
		Beneficiary:   testBeneficiary,
	}
	rig.mgr = NewManager(cfg, rig.quoter, rig.vault,
		slog.New(slog.NewTextHandler(testWriter{t}, nil)),
		WithNow(func() time.Time { return rig.now }))

	id, _ := rig.commitOrder("alice", buyPayload(300, 100), testCollateral)
	before := rig.vault.Balance("alice", testCollateralToken)
	rig.toReveal()
	rig.toSettling()

	report, _, err := rig.mgr.SettleBatch(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.TotalSlashed)
	require.Zero(t, report.SlashedCount)

	rec, err := rig.mgr.GetCommitment(id)
	require.NoError(t, err)
	require.Equal(t, domain.CommitStatusExpired, rec.Status)
	require.Equal(t, before+testCollateral, rig.vault.Balance("alice", testCollateralToken))
}

// staticGate approves a fixed allowlist.
type staticGate struct{ allowed map[string]bool }

func (g staticGate) IsEligible(ctx context.Context, committer string) (bool, error) {
	return g.allowed[committer], nil
}

func TestComplianceGateBlocksCommit(t *testing.T) {
	rig := newTestRig(t, WithComplianceGate(staticGate{allowed: map[string]bool{"alice": true}}))
	rig.fund("alice")
	rig.fund("mallory")

	hash, err := crypto.CommitHash(buyPayload(300, 100), rig.secret())
	require.NoError(t, err)

	_, err = rig.mgr.Commit(context.Background(), "mallory", hash, testCollateral)
	require.ErrorIs(t, err, domain.ErrNotEligible)

	_, err = rig.mgr.Commit(context.Background(), "alice", hash, testCollateral)
	require.NoError(t, err)
}

func TestRevealFromPreviousBatchRejected(t *testing.T) {
	rig := newTestRig(t)
	rig.fund("alice")
	rig.fund("bob")

	payload := buyPayload(300, 100)
	id, secret := rig.commitOrder("alice", payload, testCollateral)
	rig.toReveal()
	rig.toSettling()
	_, _, err := rig.mgr.SettleBatch(context.Background())
	require.NoError(t, err)

	// Batch 2 is now in COMMIT; move it to REVEAL and try the stale commit.
	rig.toReveal()
	err = rig.reveal(id, payload, secret, 0)
	require.ErrorIs(t, err, domain.ErrWrongPhase)
}

func TestPriorityBidNeverChangesPrice(t *testing.T) {
	run := func(bid uint64) domain.SettlementReport {
		rig := newTestRig(t)
		rig.fund("alice")
		rig.fund("bob")
		buyP := buyPayload(300, 100)
		sellP := sellPayload(100, 200)
		buyID, buySecret := rig.commitOrder("alice", buyP, testCollateral)
		sellID, sellSecret := rig.commitOrder("bob", sellP, testCollateral)
		rig.toReveal()
		require.NoError(t, rig.reveal(buyID, buyP, buySecret, bid))
		require.NoError(t, rig.reveal(sellID, sellP, sellSecret, 0))
		rig.toSettling()
		report, _, err := rig.mgr.SettleBatch(context.Background())
		require.NoError(t, err)
		return report
	}

	plain := run(0)
	bid := run(1_000)
	require.Equal(t, 0, plain.ClearingPrice.Cmp(bid.ClearingPrice))
	require.Equal(t, plain.MatchedVolume, bid.MatchedVolume)
	require.Equal(t, plain.ExecutedCount, bid.ExecutedCount)
}
