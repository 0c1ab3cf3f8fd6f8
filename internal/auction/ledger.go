package auction

import (
	"time"

	"github.com/veilswap/veilswap/internal/domain"
)

// Ledger is the in-memory commitment book. Commit identifiers are assigned
// monotonically and never reused across batches. Like the Clock it relies on
// the Manager for serialisation.
type Ledger struct {
	nextID  uint64
	records map[uint64]*domain.OrderCommitment
	byBatch map[uint64][]uint64
}

func NewLedger() *Ledger {
	return &Ledger{
		nextID:  1,
		records: make(map[uint64]*domain.OrderCommitment),
		byBatch: make(map[uint64][]uint64),
	}
}

// Append records a new commitment and returns it with its assigned id.
func (l *Ledger) Append(committer, commitHash string, collateral, batchID uint64, now time.Time) domain.OrderCommitment {
	rec := domain.OrderCommitment{
		CommitID:   l.nextID,
		Committer:  committer,
		CommitHash: commitHash,
		Collateral: collateral,
		BatchID:    batchID,
		Status:     domain.CommitStatusCommitted,
		CreatedAt:  now,
	}
	l.nextID++
	l.records[rec.CommitID] = &rec
	l.byBatch[rec.BatchID] = append(l.byBatch[rec.BatchID], rec.CommitID)
	return rec
}

// Get returns a copy of the commitment with the given id.
func (l *Ledger) Get(commitID uint64) (domain.OrderCommitment, error) {
	rec, ok := l.records[commitID]
	if !ok {
		return domain.OrderCommitment{}, domain.ErrUnknownCommitment
	}
	return *rec, nil
}

// MarkRevealed transitions a commitment from COMMITTED to REVEALED.
func (l *Ledger) MarkRevealed(commitID uint64, now time.Time) error {
	rec, ok := l.records[commitID]
	if !ok {
		return domain.ErrUnknownCommitment
	}
	switch rec.Status {
	case domain.CommitStatusCommitted:
	case domain.CommitStatusRevealed:
		return domain.ErrAlreadyRevealed
	default:
		return domain.ErrWrongPhase
	}
	rec.Status = domain.CommitStatusRevealed
	t := now
	rec.RevealedAt = &t
	return nil
}

// Resolve sets the terminal status of a commitment at settlement. Statuses
// only move forward: a never-revealed commitment resolves to SLASHED or
// EXPIRED, a revealed one settles or keeps REVEALED as its terminal status
// when skipped. Anything already terminal is rejected.
func (l *Ledger) Resolve(commitID uint64, status domain.CommitStatus, now time.Time) error {
	rec, ok := l.records[commitID]
	if !ok {
		return domain.ErrUnknownCommitment
	}
	switch rec.Status {
	case domain.CommitStatusCommitted:
		if status != domain.CommitStatusSlashed && status != domain.CommitStatusExpired {
			return domain.ErrWrongPhase
		}
	case domain.CommitStatusRevealed:
		if status != domain.CommitStatusSettled && status != domain.CommitStatusRevealed {
			return domain.ErrWrongPhase
		}
	default:
		return domain.ErrWrongPhase
	}
	rec.Status = status
	t := now
	rec.ResolvedAt = &t
	return nil
}

// Batch returns copies of every commitment in the given batch, in commit
// order.
func (l *Ledger) Batch(batchID uint64) []domain.OrderCommitment {
	ids := l.byBatch[batchID]
	out := make([]domain.OrderCommitment, 0, len(ids))
	for _, id := range ids {
		out = append(out, *l.records[id])
	}
	return out
}

// DropBatch releases the index for a settled batch. The records themselves
// stay queryable by id.
func (l *Ledger) DropBatch(batchID uint64) {
	delete(l.byBatch, batchID)
}
