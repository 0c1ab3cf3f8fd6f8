package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veilswap/veilswap/internal/domain"
)

// quoteTTL bounds staleness of cached spot quotes. A settling batch always
// asks the quoter directly; the cache only serves the read API.
const quoteTTL = 10 * time.Second

// QuoteCache implements domain.QuoteCache using Redis hashes. Each pair's
// spot price is stored at key "quote:{pair}" with fields "price" (decimal
// string of the fixed-point price) and "ts" (Unix nanosecond timestamp).
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(pair string) string {
	return "quote:" + pair
}

// SetSpot stores the latest spot price for a pair.
func (qc *QuoteCache) SetSpot(ctx context.Context, pair string, price *big.Int, ts time.Time) error {
	key := quoteKey(pair)
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set spot %s: %w", pair, err)
	}
	return nil
}

// GetSpot retrieves the latest spot price and timestamp for a pair. It
// returns domain.ErrNotFound when no quote is cached.
func (qc *QuoteCache) GetSpot(ctx context.Context, pair string) (*big.Int, time.Time, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(pair)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get spot %s: %w", pair, err)
	}
	if len(vals) == 0 {
		return nil, time.Time{}, domain.ErrNotFound
	}

	price, ok := new(big.Int).SetString(vals["price"], 10)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("redis: parse spot price %q for %s", vals["price"], pair)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse spot ts for %s: %w", pair, err)
	}
	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
