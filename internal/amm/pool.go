// Package amm provides a constant-product liquidity pool used as the
// auction's price-quoting collaborator. It prices trades with the classic
// x*y=k formula in big-integer arithmetic; no floating point touches a
// quote.
package amm

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/veilswap/veilswap/internal/domain"
)

// Pool holds reserves for one base/quote pair. Quote and Spot are safe for
// concurrent use; reserve updates are serialised behind the same lock.
type Pool struct {
	mu sync.RWMutex

	base         string
	quote        string
	reserveBase  *big.Int
	reserveQuote *big.Int
	feeBps       uint64
}

func NewPool(base, quote string, reserveBase, reserveQuote, feeBps uint64) (*Pool, error) {
	if reserveBase == 0 || reserveQuote == 0 {
		return nil, fmt.Errorf("amm: both reserves must be positive")
	}
	if feeBps >= 10_000 {
		return nil, fmt.Errorf("amm: fee %d bps out of range", feeBps)
	}
	return &Pool{
		base:         base,
		quote:        quote,
		reserveBase:  new(big.Int).SetUint64(reserveBase),
		reserveQuote: new(big.Int).SetUint64(reserveQuote),
		feeBps:       feeBps,
	}, nil
}

// Quote prices a swap of amountIn tokenIn against current reserves:
// dy = y*dx' / (x+dx') with dx' the input net of fees. Reserves are not
// moved; the pool is a pricing oracle here, not the venue of record.
func (p *Pool) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn uint64) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var x, y *big.Int
	switch {
	case tokenIn == p.base && tokenOut == p.quote:
		x, y = p.reserveBase, p.reserveQuote
	case tokenIn == p.quote && tokenOut == p.base:
		x, y = p.reserveQuote, p.reserveBase
	default:
		return 0, fmt.Errorf("amm: pair %s/%s not in pool", tokenIn, tokenOut)
	}
	if amountIn == 0 {
		return 0, nil
	}

	dx := new(big.Int).SetUint64(amountIn)
	dx.Mul(dx, big.NewInt(int64(10_000-p.feeBps)))
	dx.Quo(dx, big.NewInt(10_000))

	num := new(big.Int).Mul(y, dx)
	den := new(big.Int).Add(x, dx)
	dy := num.Quo(num, den)
	if !dy.IsUint64() {
		return 0, fmt.Errorf("amm: output overflows")
	}
	return dy.Uint64(), nil
}

// Spot returns the marginal quote-per-base price scaled by PriceScale.
func (p *Pool) Spot(ctx context.Context) (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	spot := new(big.Int).Mul(p.reserveQuote, domain.PriceScale)
	return spot.Quo(spot, p.reserveBase), nil
}

// SetReserves replaces both reserves, for operator rebalancing and tests.
func (p *Pool) SetReserves(reserveBase, reserveQuote uint64) error {
	if reserveBase == 0 || reserveQuote == 0 {
		return fmt.Errorf("amm: both reserves must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserveBase.SetUint64(reserveBase)
	p.reserveQuote.SetUint64(reserveQuote)
	return nil
}

var _ domain.PriceQuoter = (*Pool)(nil)
