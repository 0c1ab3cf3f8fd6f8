package auction

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veilswap/veilswap/internal/domain"
)

const (
	testBase  = "WETH"
	testQuote = "USDC"
)

// fixedQuoter returns a constant spot price, or a fixed error.
type fixedQuoter struct {
	spot *big.Int
	err  error
}

func (q *fixedQuoter) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn uint64) (uint64, error) {
	return 0, q.err
}

func (q *fixedQuoter) Spot(ctx context.Context) (*big.Int, error) {
	if q.err != nil {
		return nil, q.err
	}
	return new(big.Int).Set(q.spot), nil
}

// price builds num/den quote-per-base scaled by the fixed-point constant.
func price(num, den uint64) *big.Int {
	p := new(big.Int).SetUint64(num)
	p.Mul(p, domain.PriceScale)
	return p.Quo(p, new(big.Int).SetUint64(den))
}

func buy(commitID, amountQuote, minBase uint64) domain.RevealedOrder {
	return domain.RevealedOrder{
		CommitID: commitID, TokenIn: testQuote, TokenOut: testBase,
		AmountIn: amountQuote, MinAmountOut: minBase,
	}
}

func sell(commitID, amountBase, minQuote uint64) domain.RevealedOrder {
	return domain.RevealedOrder{
		CommitID: commitID, TokenIn: testBase, TokenOut: testQuote,
		AmountIn: amountBase, MinAmountOut: minQuote,
	}
}

func TestClearMaximisesMatchedVolume(t *testing.T) {
	eng := NewClearingEngine(testBase, testQuote, 0)
	orders := []domain.RevealedOrder{
		buy(1, 300, 100), // willing up to 3 quote per base
		sell(2, 100, 200), // willing down to 2
		sell(3, 80, 200),  // willing down to 2.5
	}
	res, err := eng.Clear(context.Background(), 7, orders, &fixedQuoter{spot: price(5, 2)})
	require.NoError(t, err)
	require.Equal(t, domain.PriceSourceCross, res.Source)
	require.Equal(t, 0, res.ClearingPrice.Cmp(price(5, 2)))
	require.Equal(t, uint64(120), res.MatchedVolume)
}

func TestClearTieBreaksToLowestPrice(t *testing.T) {
	eng := NewClearingEngine(testBase, testQuote, 0)
	orders := []domain.RevealedOrder{
		buy(1, 300, 100), // limit 3
		sell(2, 100, 200), // limit 2
	}
	// Matched volume is 100 base at both candidates; the lower price wins.
	res, err := eng.Clear(context.Background(), 7, orders, &fixedQuoter{spot: price(2, 1)})
	require.NoError(t, err)
	require.Equal(t, domain.PriceSourceCross, res.Source)
	require.Equal(t, 0, res.ClearingPrice.Cmp(price(2, 1)))
	require.Equal(t, uint64(100), res.MatchedVolume)
}

func TestClearOneSidedFallsBackToSpot(t *testing.T) {
	eng := NewClearingEngine(testBase, testQuote, 0)
	spot := price(2, 1)
	for name, orders := range map[string][]domain.RevealedOrder{
		"buys only":  {buy(1, 300, 100), buy(2, 50, 0)},
		"sells only": {sell(1, 100, 200)},
		"empty":      nil,
	} {
		t.Run(name, func(t *testing.T) {
			res, err := eng.Clear(context.Background(), 1, orders, &fixedQuoter{spot: spot})
			require.NoError(t, err)
			require.Equal(t, domain.PriceSourceQuote, res.Source)
			require.Equal(t, 0, res.ClearingPrice.Cmp(spot))
			require.Zero(t, res.MatchedVolume)
		})
	}
}

func TestClearNoCrossAndNoSpotFails(t *testing.T) {
	eng := NewClearingEngine(testBase, testQuote, 0)
	_, err := eng.Clear(context.Background(), 1,
		[]domain.RevealedOrder{buy(1, 300, 100)},
		&fixedQuoter{err: context.DeadlineExceeded})
	require.Error(t, err)
}

func TestClearEmptyBatchWithoutSpot(t *testing.T) {
	eng := NewClearingEngine(testBase, testQuote, 0)
	res, err := eng.Clear(context.Background(), 1, nil, &fixedQuoter{err: context.DeadlineExceeded})
	require.NoError(t, err)
	require.Zero(t, res.ClearingPrice.Sign())
	require.Equal(t, domain.PriceSourceQuote, res.Source)
}

func TestClearToleranceFallsBackToSpot(t *testing.T) {
	// Crossed price of 2.9 deviates 45% from spot 2.0, beyond the 10% band,
	// so the batch settles at spot instead.
	eng := NewClearingEngine(testBase, testQuote, 1000)
	orders := []domain.RevealedOrder{
		buy(1, 300, 100),  // limit 3
		sell(2, 100, 290), // limit 2.9
	}
	spot := price(2, 1)
	res, err := eng.Clear(context.Background(), 3, orders, &fixedQuoter{spot: spot})
	require.NoError(t, err)
	require.Equal(t, domain.PriceSourceQuote, res.Source)
	require.Equal(t, 0, res.ClearingPrice.Cmp(spot))
	// The seller will not accept spot, so nothing matches at it.
	require.Zero(t, res.MatchedVolume)
}

func TestOrderLimitRounding(t *testing.T) {
	// Buy limit floors so the buyer never pays above their cap; sell limit
	// ceils so the seller never receives below their floor.
	b := buyLimit(buy(1, 10, 3))
	require.Equal(t, "3333333333333333333", b.String())

	s := sellLimit(sell(1, 3, 10))
	require.Equal(t, "3333333333333333334", s.String())

	require.Nil(t, buyLimit(buy(1, 10, 0)))
	require.Zero(t, sellLimit(sell(1, 10, 0)).Sign())
}

func TestClearArrivalOrderIndependent(t *testing.T) {
	eng := NewClearingEngine(testBase, testQuote, 0)
	orders := []domain.RevealedOrder{
		buy(1, 300, 100),
		sell(2, 100, 200),
		sell(3, 80, 200),
		buy(4, 500, 0),
	}
	reversed := make([]domain.RevealedOrder, len(orders))
	for i, o := range orders {
		reversed[len(orders)-1-i] = o
	}
	a, err := eng.Clear(context.Background(), 1, orders, &fixedQuoter{spot: price(5, 2)})
	require.NoError(t, err)
	b, err := eng.Clear(context.Background(), 1, reversed, &fixedQuoter{spot: price(5, 2)})
	require.NoError(t, err)
	require.Equal(t, 0, a.ClearingPrice.Cmp(b.ClearingPrice))
	require.Equal(t, a.MatchedVolume, b.MatchedVolume)
	require.Equal(t, a.Source, b.Source)
}
