package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/veilswap/veilswap/internal/domain"
)

// spotMaxAge bounds how stale a cached spot price may be before the service
// goes back to the pool.
const spotMaxAge = 5 * time.Second

// QuoteService answers price queries, serving spot prices from the cache
// when fresh and falling back to the pool otherwise.
type QuoteService struct {
	quoter domain.PriceQuoter
	cache  domain.QuoteCache
	pair   string
	logger *slog.Logger
}

// NewQuoteService creates a QuoteService. Cache may be nil, in which case
// every query hits the quoter directly.
func NewQuoteService(quoter domain.PriceQuoter, cache domain.QuoteCache, base, quote string, logger *slog.Logger) *QuoteService {
	return &QuoteService{
		quoter: quoter,
		cache:  cache,
		pair:   base + "/" + quote,
		logger: logger.With(slog.String("component", "quote_service")),
	}
}

// Spot returns the current quote-per-base price scaled by domain.PriceScale.
func (s *QuoteService) Spot(ctx context.Context) (*big.Int, error) {
	if s.cache != nil {
		price, ts, err := s.cache.GetSpot(ctx, s.pair)
		if err == nil && time.Since(ts) <= spotMaxAge {
			return price, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("spot cache read failed", slog.String("error", err.Error()))
		}
	}

	price, err := s.quoter.Spot(ctx)
	if err != nil {
		return nil, fmt.Errorf("quote_service: spot: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetSpot(ctx, s.pair, price, time.Now()); err != nil {
			s.logger.Warn("spot cache write failed", slog.String("error", err.Error()))
		}
	}
	return price, nil
}

// Quote returns the amount of tokenOut that amountIn of tokenIn would
// receive right now. Quotes are not cached: they depend on trade size.
func (s *QuoteService) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn uint64) (uint64, error) {
	out, err := s.quoter.Quote(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return 0, fmt.Errorf("quote_service: quote %s->%s: %w", tokenIn, tokenOut, err)
	}
	return out, nil
}
