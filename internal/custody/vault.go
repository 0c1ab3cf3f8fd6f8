// Package custody implements the token and collateral escrow the auction
// settles against. The Vault keeps per-account balances in memory and applies
// settlement plans all-or-nothing: the whole plan is validated against a
// staged copy of the balances before a single unit moves.
package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/veilswap/veilswap/internal/domain"
)

// Vault holds spendable balances per account and token, plus escrowed
// collateral per commitment cycle. Collateral is denominated in a single
// configured token.
type Vault struct {
	mu sync.RWMutex

	collateralToken string
	balances        map[string]map[string]uint64
	escrowed        map[string]uint64
}

func NewVault(collateralToken string) *Vault {
	return &Vault{
		collateralToken: collateralToken,
		balances:        make(map[string]map[string]uint64),
		escrowed:        make(map[string]uint64),
	}
}

// Deposit credits an account. Used by the funding endpoint and tests.
func (v *Vault) Deposit(account, token string, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.credit(account, token, amount)
}

// Balance returns the spendable balance of token for an account.
func (v *Vault) Balance(account, token string) uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balances[account][token]
}

// Escrowed returns the collateral currently held against an account.
func (v *Vault) Escrowed(account string) uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.escrowed[account]
}

// EscrowCollateral moves collateral from the committer's spendable balance
// into escrow.
func (v *Vault) EscrowCollateral(ctx context.Context, committer string, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balances[committer][v.collateralToken] < amount {
		return fmt.Errorf("custody: %s has %d %s, needs %d: %w",
			committer, v.balances[committer][v.collateralToken], v.collateralToken, amount, domain.ErrInsufficientCollateral)
	}
	v.balances[committer][v.collateralToken] -= amount
	v.escrowed[committer] += amount
	return nil
}

// CanDebit reports whether the account could pay amount of token right now.
func (v *Vault) CanDebit(ctx context.Context, account, token string, amount uint64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balances[account][token] >= amount
}

// Apply executes a settlement plan atomically. Every executed fill debits the
// committer's tokenIn and credits their tokenOut; every collateral move
// releases escrow back to the committer and pays any slashed portion to the
// plan's beneficiary. If any debit would overdraw, nothing is applied.
func (v *Vault) Apply(ctx context.Context, plan domain.SettlementPlan) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	staged := v.cloneBalances()
	stagedEscrow := make(map[string]uint64, len(v.escrowed))
	for k, amt := range v.escrowed {
		stagedEscrow[k] = amt
	}

	for _, f := range plan.Fills {
		if f.Outcome != domain.FillExecuted {
			continue
		}
		if staged[f.Committer][f.TokenIn] < f.AmountIn {
			return fmt.Errorf("custody: fill %d overdraws %s %s", f.CommitID, f.Committer, f.TokenIn)
		}
		staged[f.Committer][f.TokenIn] -= f.AmountIn
		creditStaged(staged, f.Committer, f.TokenOut, f.AmountOut)
	}
	for _, mv := range plan.Collateral {
		total := mv.Refunded + mv.Slashed
		if stagedEscrow[mv.Committer] < total {
			return fmt.Errorf("custody: collateral move %d exceeds escrow of %s", mv.CommitID, mv.Committer)
		}
		stagedEscrow[mv.Committer] -= total
		creditStaged(staged, mv.Committer, v.collateralToken, mv.Refunded)
		if mv.Slashed > 0 {
			creditStaged(staged, plan.Beneficiary, v.collateralToken, mv.Slashed)
		}
	}

	v.balances = staged
	v.escrowed = stagedEscrow
	return nil
}

func (v *Vault) credit(account, token string, amount uint64) {
	creditStaged(v.balances, account, token, amount)
}

func creditStaged(balances map[string]map[string]uint64, account, token string, amount uint64) {
	if balances[account] == nil {
		balances[account] = make(map[string]uint64)
	}
	balances[account][token] += amount
}

func (v *Vault) cloneBalances() map[string]map[string]uint64 {
	out := make(map[string]map[string]uint64, len(v.balances))
	for acct, tokens := range v.balances {
		inner := make(map[string]uint64, len(tokens))
		for tok, amt := range tokens {
			inner[tok] = amt
		}
		out[acct] = inner
	}
	return out
}

var _ domain.Custody = (*Vault)(nil)
