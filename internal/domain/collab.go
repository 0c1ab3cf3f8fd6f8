package domain

import (
	"context"
	"math/big"
)

// PriceQuoter is the external liquidity/pricing collaborator. The auction
// only asks it what a trade would execute at; it never inspects reserves.
type PriceQuoter interface {
	// Quote returns the amount of tokenOut a trade of amountIn tokenIn would
	// receive right now.
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn uint64) (uint64, error)
	// Spot returns the current quote-per-base price scaled by PriceScale.
	Spot(ctx context.Context) (*big.Int, error)
}

// Custody is the token/collateral escrow collaborator. All mutations are
// all-or-nothing: Apply either performs every move in the plan or none.
type Custody interface {
	// EscrowCollateral moves collateral from the committer into escrow.
	EscrowCollateral(ctx context.Context, committer string, amount uint64) error
	// CanDebit reports whether the account can pay amount of token right now.
	// Settlement uses it to classify per-order balance failures as skips
	// rather than batch aborts.
	CanDebit(ctx context.Context, account, token string, amount uint64) bool
	// Apply atomically executes every fill and collateral move in the plan.
	Apply(ctx context.Context, plan SettlementPlan) error
}

// ComplianceGate is the optional identity gate consulted at commit time only.
type ComplianceGate interface {
	IsEligible(ctx context.Context, committer string) (bool, error)
}
