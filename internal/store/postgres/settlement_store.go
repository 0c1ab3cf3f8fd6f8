package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilswap/veilswap/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL. The
// report and its fills are written in one transaction so a settlement is
// either fully recorded or not at all.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Create persists a settlement report and its fills atomically.
func (s *SettlementStore) Create(ctx context.Context, report domain.SettlementReport, fills []domain.Fill) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin settlement tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const reportQuery = `
		INSERT INTO settlements (
			batch_id, clearing_price, price_source, matched_volume,
			order_count, executed_count, skipped_count, slashed_count,
			total_collateral, total_refunded, total_slashed, signature, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = tx.Exec(ctx, reportQuery,
		int64(report.BatchID), report.ClearingPrice.String(), string(report.PriceSource),
		int64(report.MatchedVolume), report.OrderCount, report.ExecutedCount,
		report.SkippedCount, report.SlashedCount, int64(report.TotalCollateral),
		int64(report.TotalRefunded), int64(report.TotalSlashed),
		report.Signature, report.SettledAt)
	if err != nil {
		return fmt.Errorf("postgres: create settlement %d: %w", report.BatchID, err)
	}

	const fillQuery = `
		INSERT INTO fills (batch_id, commit_id, committer, token_in, token_out, amount_in, amount_out, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, f := range fills {
		if _, err := tx.Exec(ctx, fillQuery,
			int64(report.BatchID), int64(f.CommitID), f.Committer,
			f.TokenIn, f.TokenOut, int64(f.AmountIn), int64(f.AmountOut),
			string(f.Outcome)); err != nil {
			return fmt.Errorf("postgres: create fill %d: %w", f.CommitID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit settlement %d: %w", report.BatchID, err)
	}
	return nil
}

const settlementColumns = `batch_id, clearing_price, price_source, matched_volume,
	order_count, executed_count, skipped_count, slashed_count,
	total_collateral, total_refunded, total_slashed, signature, settled_at`

// GetByBatch returns the settlement report of one batch.
func (s *SettlementStore) GetByBatch(ctx context.Context, batchID uint64) (domain.SettlementReport, error) {
	const query = `SELECT ` + settlementColumns + ` FROM settlements WHERE batch_id = $1`
	r, err := scanSettlement(s.pool.QueryRow(ctx, query, int64(batchID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SettlementReport{}, fmt.Errorf("postgres: settlement %d: %w", batchID, domain.ErrNotFound)
		}
		return domain.SettlementReport{}, fmt.Errorf("postgres: get settlement %d: %w", batchID, err)
	}
	return r, nil
}

// ListFills returns the fills of one settled batch in insertion order.
func (s *SettlementStore) ListFills(ctx context.Context, batchID uint64) ([]domain.Fill, error) {
	const query = `
		SELECT commit_id, committer, token_in, token_out, amount_in, amount_out, outcome
		FROM fills WHERE batch_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, int64(batchID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills %d: %w", batchID, err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var commitID, amountIn, amountOut int64
		var outcome string
		if err := rows.Scan(&commitID, &f.Committer, &f.TokenIn, &f.TokenOut,
			&amountIn, &amountOut, &outcome); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.CommitID = uint64(commitID)
		f.AmountIn = uint64(amountIn)
		f.AmountOut = uint64(amountOut)
		f.Outcome = domain.FillOutcome(outcome)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fills rows: %w", err)
	}
	return out, nil
}

// ListRecent returns the most recent settlement reports, newest first.
func (s *SettlementStore) ListRecent(ctx context.Context, limit int) ([]domain.SettlementReport, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements ORDER BY batch_id DESC`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $1"
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementReport
	for rows.Next() {
		r, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlements rows: %w", err)
	}
	return out, nil
}

func scanSettlement(row pgx.Row) (domain.SettlementReport, error) {
	var r domain.SettlementReport
	var batchID, matched, collateral, refunded, slashed int64
	var priceStr, source string
	if err := row.Scan(&batchID, &priceStr, &source, &matched,
		&r.OrderCount, &r.ExecutedCount, &r.SkippedCount, &r.SlashedCount,
		&collateral, &refunded, &slashed, &r.Signature, &r.SettledAt); err != nil {
		return domain.SettlementReport{}, err
	}
	price, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return domain.SettlementReport{}, fmt.Errorf("postgres: bad clearing price %q", priceStr)
	}
	r.BatchID = uint64(batchID)
	r.ClearingPrice = price
	r.PriceSource = domain.PriceSource(source)
	r.MatchedVolume = uint64(matched)
	r.TotalCollateral = uint64(collateral)
	r.TotalRefunded = uint64(refunded)
	r.TotalSlashed = uint64(slashed)
	return r, nil
}

// ListBefore returns every settlement settled strictly before the cutoff,
// oldest first. Used by the archiver to page history out to cold storage.
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementReport, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE settled_at < $1 ORDER BY batch_id`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements before: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementReport
	for rows.Next() {
		r, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlements before rows: %w", err)
	}
	return out, nil
}
