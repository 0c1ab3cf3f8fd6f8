package auction

import (
	"context"
	"fmt"
	"math/bits"
	"time"

	"github.com/veilswap/veilswap/internal/domain"
)

const bpsDenominator = 10_000

// Executor turns a cleared, shuffled batch into a settlement plan. It never
// mutates anything itself; the Manager applies the plan through custody and
// commits the resulting status changes only if that application succeeds.
type Executor struct {
	base        string
	quote       string
	slashBps    uint64
	beneficiary string
}

func NewExecutor(base, quote string, slashBps uint64, beneficiary string) *Executor {
	if slashBps > bpsDenominator {
		slashBps = bpsDenominator
	}
	return &Executor{base: base, quote: quote, slashBps: slashBps, beneficiary: beneficiary}
}

// slashAmount computes collateral*slashBps/10000 through a 128-bit
// intermediate; the plain uint64 product overflows for collateral above
// ~1.8e15 base units.
func (e *Executor) slashAmount(collateral uint64) uint64 {
	hi, lo := bits.Mul64(collateral, e.slashBps)
	q, _ := bits.Div64(hi, lo, bpsDenominator)
	return q
}

// settlementOutcome is the full result of planning one batch: the value
// moves, the terminal status per commitment, and the report totals.
type settlementOutcome struct {
	plan     domain.SettlementPlan
	statuses map[uint64]domain.CommitStatus
	report   domain.SettlementReport
}

// BuildPlan walks the execution sequence applying the uniform clearing price
// to each order. An order that misses its minimum out or lacks spendable
// balance is skipped on its own; the rest of the batch proceeds, with custody
// acting as counterparty for any residual imbalance between the sides.
// Balance checks run against a staged view carrying the debits and credits of
// earlier fills in the sequence, so one account cannot spend the same balance
// twice within a batch and the plan always clears custody's atomic apply.
// Commitments never revealed are slashed by the configured fraction, with
// the remainder refunded. The plan is rejected outright if collateral in
// does not equal refunds plus slashes out.
func (e *Executor) BuildPlan(ctx context.Context, batchID uint64, clearing domain.ClearingResult, ordered []domain.RevealedOrder, commitments []domain.OrderCommitment, custody domain.Custody, now time.Time) (settlementOutcome, error) {
	out := settlementOutcome{
		plan: domain.SettlementPlan{
			BatchID:     batchID,
			Beneficiary: e.beneficiary,
		},
		statuses: make(map[uint64]domain.CommitStatus, len(commitments)),
	}

	// Staged fill moves per account and token. Custody applies fills before
	// collateral refunds, so refunds never fund fills and are not staged.
	type balanceKey struct{ account, token string }
	debits := make(map[balanceKey]uint64)
	credits := make(map[balanceKey]uint64)

	executed, skipped := 0, 0
	for _, o := range ordered {
		fill := domain.Fill{
			CommitID:  o.CommitID,
			Committer: o.Committer,
			TokenIn:   o.TokenIn,
			TokenOut:  o.TokenOut,
			AmountIn:  o.AmountIn,
		}
		isBuy := o.TokenIn == e.quote

		var amountOut uint64
		if clearing.ClearingPrice.Sign() == 0 {
			// No crossing price and no spot quote; nothing can execute.
			fill.Outcome = domain.FillSkippedVolume
		} else {
			if isBuy {
				amountOut = clampUint64(buyOut(o.AmountIn, clearing.ClearingPrice))
			} else {
				amountOut = clampUint64(sellOut(o.AmountIn, clearing.ClearingPrice))
			}
			if amountOut < o.MinAmountOut || amountOut == 0 {
				fill.Outcome = domain.FillSkippedSlippage
			} else {
				inKey := balanceKey{o.Committer, o.TokenIn}
				need := debits[inKey] + o.AmountIn
				have := credits[inKey]
				if have >= need || custody.CanDebit(ctx, o.Committer, o.TokenIn, need-have) {
					fill.Outcome = domain.FillExecuted
					fill.AmountOut = amountOut
					debits[inKey] = need
					credits[balanceKey{o.Committer, o.TokenOut}] += amountOut
				} else {
					fill.Outcome = domain.FillSkippedBalance
				}
			}
		}

		if fill.Outcome == domain.FillExecuted {
			executed++
			out.statuses[o.CommitID] = domain.CommitStatusSettled
		} else {
			skipped++
			out.statuses[o.CommitID] = domain.CommitStatusRevealed
		}
		out.plan.Fills = append(out.plan.Fills, fill)
	}

	var totalCollateral, totalRefunded, totalSlashed uint64
	slashedCount := 0
	for _, c := range commitments {
		move := domain.CollateralMove{
			CommitID:  c.CommitID,
			Committer: c.Committer,
		}
		switch c.Status {
		case domain.CommitStatusRevealed:
			move.Refunded = c.Collateral
		case domain.CommitStatusCommitted:
			move.Slashed = e.slashAmount(c.Collateral)
			move.Refunded = c.Collateral - move.Slashed
			if move.Slashed > 0 {
				slashedCount++
				out.statuses[c.CommitID] = domain.CommitStatusSlashed
			} else {
				// With slashing disabled an unrevealed commitment just lapses.
				out.statuses[c.CommitID] = domain.CommitStatusExpired
			}
		default:
			return settlementOutcome{}, fmt.Errorf("auction: commitment %d in status %s at settlement: %w", c.CommitID, c.Status, domain.ErrWrongPhase)
		}
		totalCollateral += c.Collateral
		totalRefunded += move.Refunded
		totalSlashed += move.Slashed
		out.plan.Collateral = append(out.plan.Collateral, move)
	}

	if totalCollateral != totalRefunded+totalSlashed {
		return settlementOutcome{}, fmt.Errorf("auction: collateral conservation violated: committed %d, refunded %d, slashed %d", totalCollateral, totalRefunded, totalSlashed)
	}

	out.report = domain.SettlementReport{
		BatchID:         batchID,
		ClearingPrice:   clearing.ClearingPrice,
		PriceSource:     clearing.Source,
		MatchedVolume:   clearing.MatchedVolume,
		OrderCount:      len(commitments),
		ExecutedCount:   executed,
		SkippedCount:    skipped,
		SlashedCount:    slashedCount,
		TotalCollateral: totalCollateral,
		TotalRefunded:   totalRefunded,
		TotalSlashed:    totalSlashed,
		SettledAt:       now,
	}
	return out, nil
}
