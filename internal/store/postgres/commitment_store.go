package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilswap/veilswap/internal/domain"
)

// CommitmentStore implements domain.CommitmentStore using PostgreSQL. The
// in-memory ledger stays authoritative during a batch; this store is the
// durable audit trail written through by the service layer.
type CommitmentStore struct {
	pool *pgxpool.Pool
}

// NewCommitmentStore creates a CommitmentStore backed by the given pool.
func NewCommitmentStore(pool *pgxpool.Pool) *CommitmentStore {
	return &CommitmentStore{pool: pool}
}

const commitmentColumns = `commit_id, committer, commit_hash, collateral, batch_id, status, created_at, revealed_at, resolved_at`

// Create persists a new commitment record.
func (s *CommitmentStore) Create(ctx context.Context, c domain.OrderCommitment) error {
	const query = `
		INSERT INTO commitments (` + commitmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, query,
		int64(c.CommitID), c.Committer, c.CommitHash, int64(c.Collateral),
		int64(c.BatchID), string(c.Status), c.CreatedAt, c.RevealedAt, c.ResolvedAt)
	if err != nil {
		return fmt.Errorf("postgres: create commitment %d: %w", c.CommitID, err)
	}
	return nil
}

// UpdateStatus sets the lifecycle status of a commitment. Reveal and
// resolution timestamps follow the status being written.
func (s *CommitmentStore) UpdateStatus(ctx context.Context, commitID uint64, status domain.CommitStatus) error {
	var query string
	switch status {
	case domain.CommitStatusRevealed:
		query = `UPDATE commitments SET status = $2, revealed_at = NOW() WHERE commit_id = $1`
	case domain.CommitStatusSettled, domain.CommitStatusSlashed, domain.CommitStatusExpired:
		query = `UPDATE commitments SET status = $2, resolved_at = NOW() WHERE commit_id = $1`
	default:
		query = `UPDATE commitments SET status = $2 WHERE commit_id = $1`
	}
	tag, err := s.pool.Exec(ctx, query, int64(commitID), string(status))
	if err != nil {
		return fmt.Errorf("postgres: update commitment %d status: %w", commitID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: commitment %d: %w", commitID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns one commitment by id.
func (s *CommitmentStore) GetByID(ctx context.Context, commitID uint64) (domain.OrderCommitment, error) {
	const query = `SELECT ` + commitmentColumns + ` FROM commitments WHERE commit_id = $1`
	c, err := scanCommitment(s.pool.QueryRow(ctx, query, int64(commitID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OrderCommitment{}, fmt.Errorf("postgres: commitment %d: %w", commitID, domain.ErrNotFound)
		}
		return domain.OrderCommitment{}, fmt.Errorf("postgres: get commitment %d: %w", commitID, err)
	}
	return c, nil
}

// ListByBatch returns the commitments of one batch in commit order.
func (s *CommitmentStore) ListByBatch(ctx context.Context, batchID uint64, opts domain.ListOpts) ([]domain.OrderCommitment, error) {
	query := `SELECT ` + commitmentColumns + ` FROM commitments WHERE batch_id = $1 ORDER BY commit_id`
	args := []any{int64(batchID)}
	query, args = applyListOpts(query, args, opts)
	return s.list(ctx, query, args)
}

// ListByCommitter returns a committer's history, newest first.
func (s *CommitmentStore) ListByCommitter(ctx context.Context, committer string, opts domain.ListOpts) ([]domain.OrderCommitment, error) {
	query := `SELECT ` + commitmentColumns + ` FROM commitments WHERE committer = $1 ORDER BY created_at DESC`
	args := []any{committer}
	query, args = applyListOpts(query, args, opts)
	return s.list(ctx, query, args)
}

func (s *CommitmentStore) list(ctx context.Context, query string, args []any) ([]domain.OrderCommitment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list commitments: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderCommitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan commitment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list commitments rows: %w", err)
	}
	return out, nil
}

func scanCommitment(row pgx.Row) (domain.OrderCommitment, error) {
	var c domain.OrderCommitment
	var commitID, collateral, batchID int64
	var status string
	if err := row.Scan(&commitID, &c.Committer, &c.CommitHash, &collateral,
		&batchID, &status, &c.CreatedAt, &c.RevealedAt, &c.ResolvedAt); err != nil {
		return domain.OrderCommitment{}, err
	}
	c.CommitID = uint64(commitID)
	c.Collateral = uint64(collateral)
	c.BatchID = uint64(batchID)
	c.Status = domain.CommitStatus(status)
	return c, nil
}

// applyListOpts appends LIMIT/OFFSET clauses for pagination.
func applyListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
