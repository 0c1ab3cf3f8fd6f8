package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilswap/veilswap/internal/domain"
)

// BatchStore implements domain.BatchStore using PostgreSQL.
type BatchStore struct {
	pool *pgxpool.Pool
}

// NewBatchStore creates a BatchStore backed by the given connection pool.
func NewBatchStore(pool *pgxpool.Pool) *BatchStore {
	return &BatchStore{pool: pool}
}

const batchColumns = `id, phase, phase_start, commit_window_ms, reveal_window_ms, created_at, settled_at`

// Create persists a newly opened batch.
func (s *BatchStore) Create(ctx context.Context, b domain.Batch) error {
	const query = `
		INSERT INTO batches (` + batchColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		int64(b.ID), string(b.Phase), b.PhaseStart,
		b.CommitWindow.Milliseconds(), b.RevealWindow.Milliseconds(),
		b.CreatedAt, b.SettledAt)
	if err != nil {
		return fmt.Errorf("postgres: create batch %d: %w", b.ID, err)
	}
	return nil
}

// UpdatePhase records a phase transition.
func (s *BatchStore) UpdatePhase(ctx context.Context, batchID uint64, phase domain.Phase, phaseStart time.Time) error {
	const query = `UPDATE batches SET phase = $2, phase_start = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, int64(batchID), string(phase), phaseStart)
	if err != nil {
		return fmt.Errorf("postgres: update batch %d phase: %w", batchID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: batch %d: %w", batchID, domain.ErrNotFound)
	}
	return nil
}

// MarkSettled stamps a batch's settlement time.
func (s *BatchStore) MarkSettled(ctx context.Context, batchID uint64, settledAt time.Time) error {
	const query = `UPDATE batches SET settled_at = $2 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, int64(batchID), settledAt)
	if err != nil {
		return fmt.Errorf("postgres: mark batch %d settled: %w", batchID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: batch %d: %w", batchID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns one batch.
func (s *BatchStore) GetByID(ctx context.Context, batchID uint64) (domain.Batch, error) {
	const query = `SELECT ` + batchColumns + ` FROM batches WHERE id = $1`
	b, err := scanBatch(s.pool.QueryRow(ctx, query, int64(batchID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Batch{}, fmt.Errorf("postgres: batch %d: %w", batchID, domain.ErrNotFound)
		}
		return domain.Batch{}, fmt.Errorf("postgres: get batch %d: %w", batchID, err)
	}
	return b, nil
}

// GetLatest returns the most recently created batch.
func (s *BatchStore) GetLatest(ctx context.Context) (domain.Batch, error) {
	const query = `SELECT ` + batchColumns + ` FROM batches ORDER BY id DESC LIMIT 1`
	b, err := scanBatch(s.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Batch{}, fmt.Errorf("postgres: latest batch: %w", domain.ErrNotFound)
		}
		return domain.Batch{}, fmt.Errorf("postgres: get latest batch: %w", err)
	}
	return b, nil
}

func scanBatch(row pgx.Row) (domain.Batch, error) {
	var b domain.Batch
	var id, commitMs, revealMs int64
	var phase string
	if err := row.Scan(&id, &phase, &b.PhaseStart, &commitMs, &revealMs, &b.CreatedAt, &b.SettledAt); err != nil {
		return domain.Batch{}, err
	}
	b.ID = uint64(id)
	b.Phase = domain.Phase(phase)
	b.CommitWindow = time.Duration(commitMs) * time.Millisecond
	b.RevealWindow = time.Duration(revealMs) * time.Millisecond
	return b, nil
}
