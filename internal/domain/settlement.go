package domain

import (
	"math/big"
	"time"
)

// PriceScale is the fixed-point denominator for prices. A price is the amount
// of quote token per one base token, scaled by 1e18, so integer arithmetic
// carries no rounding drift across a batch.
var PriceScale = new(big.Int).SetUint64(1_000_000_000_000_000_000)

// PriceSource records how a batch's clearing price was determined.
type PriceSource string

const (
	// PriceSourceCross means the demand and supply curves intersected and the
	// price is the lowest price achieving maximal matched volume.
	PriceSourceCross PriceSource = "cross"
	// PriceSourceQuote means the batch was one-sided or the curves never
	// crossed (or the crossed price breached the tolerance bound) and the
	// external quoter's spot price was used instead.
	PriceSourceQuote PriceSource = "quote"
)

// ClearingResult is the uniform price outcome for one batch. It is derived
// from the revealed set and external quotes, never stored independently.
type ClearingResult struct {
	BatchID       uint64
	ClearingPrice *big.Int // quote per base, scaled by PriceScale
	MatchedVolume uint64   // base token units matched at the clearing price
	Source        PriceSource
}

// FillOutcome describes what happened to one revealed order at settlement.
type FillOutcome string

const (
	FillExecuted        FillOutcome = "executed"
	FillSkippedSlippage FillOutcome = "skipped_slippage"
	FillSkippedVolume   FillOutcome = "skipped_volume"
	FillSkippedBalance  FillOutcome = "skipped_balance"
)

// Fill is the per-order settlement record: the realized trade (or the reason
// it was skipped) plus the collateral disposition for its commitment.
type Fill struct {
	CommitID  uint64
	Committer string
	TokenIn   string
	TokenOut  string
	AmountIn  uint64
	AmountOut uint64
	Outcome   FillOutcome
}

// CollateralMove is a single refund or slash applied while reconciling a
// batch's commitments.
type CollateralMove struct {
	CommitID  uint64
	Committer string
	Refunded  uint64
	Slashed   uint64
}

// SettlementPlan is the full, pre-validated effect set of one settleBatch
// call. The custody collaborator applies it all-or-nothing.
type SettlementPlan struct {
	BatchID     uint64
	Fills       []Fill
	Collateral  []CollateralMove
	Beneficiary string
}

// SettlementReport is the persisted outcome of a settled batch.
type SettlementReport struct {
	BatchID         uint64
	ClearingPrice   *big.Int
	PriceSource     PriceSource
	MatchedVolume   uint64
	OrderCount      int
	ExecutedCount   int
	SkippedCount    int
	SlashedCount    int
	TotalCollateral uint64
	TotalRefunded   uint64
	TotalSlashed    uint64
	Signature       string // operator secp256k1 signature over the report digest
	SettledAt       time.Time
}
