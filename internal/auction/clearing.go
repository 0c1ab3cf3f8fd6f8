package auction

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/veilswap/veilswap/internal/domain"
)

// ClearingEngine computes the single uniform price a batch settles at. Every
// order in the batch trades at that one price, so ordering within the batch
// cannot be used to extract value from other orders.
type ClearingEngine struct {
	base         string
	quote        string
	toleranceBps uint64
}

func NewClearingEngine(base, quote string, toleranceBps uint64) *ClearingEngine {
	return &ClearingEngine{base: base, quote: quote, toleranceBps: toleranceBps}
}

// Clear derives the clearing price for a batch. Candidate prices are the
// limit prices implied by the revealed orders; the engine picks the candidate
// maximising matched volume, breaking ties toward the lowest price. When the
// batch does not cross (or is one-sided or empty) the price falls back to the
// venue spot, and when the crossed price strays from spot by more than the
// configured tolerance the spot wins as well.
func (e *ClearingEngine) Clear(ctx context.Context, batchID uint64, orders []domain.RevealedOrder, quoter domain.PriceQuoter) (domain.ClearingResult, error) {
	buys, sells := e.split(orders)

	spot, spotErr := quoter.Spot(ctx)

	price, matched := e.crossPrice(buys, sells)
	if price == nil || matched.Sign() == 0 {
		if spotErr != nil {
			if len(orders) == 0 {
				return domain.ClearingResult{BatchID: batchID, ClearingPrice: new(big.Int), Source: domain.PriceSourceQuote}, nil
			}
			return domain.ClearingResult{}, fmt.Errorf("auction: no crossing orders and no spot price: %w", spotErr)
		}
		return domain.ClearingResult{BatchID: batchID, ClearingPrice: spot, Source: domain.PriceSourceQuote}, nil
	}

	if spotErr == nil && e.toleranceBps > 0 && deviationExceeds(price, spot, e.toleranceBps) {
		m := minBig(e.demandAt(buys, spot), e.supplyAt(sells, spot))
		return domain.ClearingResult{
			BatchID:       batchID,
			ClearingPrice: spot,
			MatchedVolume: clampUint64(m),
			Source:        domain.PriceSourceQuote,
		}, nil
	}

	return domain.ClearingResult{
		BatchID:       batchID,
		ClearingPrice: price,
		MatchedVolume: clampUint64(matched),
		Source:        domain.PriceSourceCross,
	}, nil
}

func (e *ClearingEngine) split(orders []domain.RevealedOrder) (buys, sells []domain.RevealedOrder) {
	for _, o := range orders {
		switch {
		case o.TokenIn == e.quote && o.TokenOut == e.base:
			buys = append(buys, o)
		case o.TokenIn == e.base && o.TokenOut == e.quote:
			sells = append(sells, o)
		}
	}
	return buys, sells
}

// crossPrice enumerates the order limit prices and returns the one with the
// greatest matched base volume, lowest first on ties. A nil price means the
// book does not cross.
func (e *ClearingEngine) crossPrice(buys, sells []domain.RevealedOrder) (*big.Int, *big.Int) {
	seen := make(map[string]struct{})
	var candidates []*big.Int
	add := func(p *big.Int) {
		if p == nil || p.Sign() <= 0 {
			return
		}
		k := p.String()
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		candidates = append(candidates, p)
	}
	for _, o := range buys {
		add(buyLimit(o))
	}
	for _, o := range sells {
		add(sellLimit(o))
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Cmp(candidates[j]) < 0 })

	var bestPrice, bestMatched *big.Int
	for _, p := range candidates {
		m := minBig(e.demandAt(buys, p), e.supplyAt(sells, p))
		if bestMatched == nil || m.Cmp(bestMatched) > 0 {
			bestPrice, bestMatched = p, m
		}
	}
	if bestMatched == nil || bestMatched.Sign() == 0 {
		return nil, new(big.Int)
	}
	return bestPrice, bestMatched
}

// demandAt sums the base units demanded by buys willing to pay p.
func (e *ClearingEngine) demandAt(buys []domain.RevealedOrder, p *big.Int) *big.Int {
	total := new(big.Int)
	for _, o := range buys {
		if lim := buyLimit(o); lim != nil && lim.Cmp(p) < 0 {
			continue
		}
		total.Add(total, buyOut(o.AmountIn, p))
	}
	return total
}

// supplyAt sums the base units offered by sells willing to accept p.
func (e *ClearingEngine) supplyAt(sells []domain.RevealedOrder, p *big.Int) *big.Int {
	total := new(big.Int)
	for _, o := range sells {
		if sellLimit(o).Cmp(p) > 0 {
			continue
		}
		total.Add(total, new(big.Int).SetUint64(o.AmountIn))
	}
	return total
}

// buyLimit is the highest price at which a buy still meets its minimum out,
// floor(amountIn*scale/minOut). Nil means no cap.
func buyLimit(o domain.RevealedOrder) *big.Int {
	if o.MinAmountOut == 0 {
		return nil
	}
	p := new(big.Int).SetUint64(o.AmountIn)
	p.Mul(p, domain.PriceScale)
	return p.Quo(p, new(big.Int).SetUint64(o.MinAmountOut))
}

// sellLimit is the lowest price at which a sell still meets its minimum out,
// ceil(minOut*scale/amountIn).
func sellLimit(o domain.RevealedOrder) *big.Int {
	if o.MinAmountOut == 0 {
		return new(big.Int)
	}
	p := new(big.Int).SetUint64(o.MinAmountOut)
	p.Mul(p, domain.PriceScale)
	den := new(big.Int).SetUint64(o.AmountIn)
	var rem big.Int
	p.QuoRem(p, den, &rem)
	if rem.Sign() != 0 {
		p.Add(p, big.NewInt(1))
	}
	return p
}

// buyOut is the base received for amountIn quote at price p, floor division.
func buyOut(amountIn uint64, p *big.Int) *big.Int {
	if p.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).SetUint64(amountIn)
	out.Mul(out, domain.PriceScale)
	return out.Quo(out, p)
}

// sellOut is the quote received for amountIn base at price p, floor division.
func sellOut(amountIn uint64, p *big.Int) *big.Int {
	out := new(big.Int).SetUint64(amountIn)
	out.Mul(out, p)
	return out.Quo(out, domain.PriceScale)
}

func deviationExceeds(p, spot *big.Int, toleranceBps uint64) bool {
	if spot.Sign() == 0 {
		return false
	}
	diff := new(big.Int).Sub(p, spot)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(10000))
	bound := new(big.Int).Mul(spot, new(big.Int).SetUint64(toleranceBps))
	return diff.Cmp(bound) > 0
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func clampUint64(v *big.Int) uint64 {
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}
