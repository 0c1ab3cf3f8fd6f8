package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CommitmentStore persists the commitment ledger's audit trail.
type CommitmentStore interface {
	Create(ctx context.Context, c OrderCommitment) error
	UpdateStatus(ctx context.Context, commitID uint64, status CommitStatus) error
	GetByID(ctx context.Context, commitID uint64) (OrderCommitment, error)
	ListByBatch(ctx context.Context, batchID uint64, opts ListOpts) ([]OrderCommitment, error)
	ListByCommitter(ctx context.Context, committer string, opts ListOpts) ([]OrderCommitment, error)
}

// BatchStore persists batch lifecycle records.
type BatchStore interface {
	Create(ctx context.Context, b Batch) error
	UpdatePhase(ctx context.Context, batchID uint64, phase Phase, phaseStart time.Time) error
	MarkSettled(ctx context.Context, batchID uint64, settledAt time.Time) error
	GetByID(ctx context.Context, batchID uint64) (Batch, error)
	GetLatest(ctx context.Context) (Batch, error)
}

// SettlementStore persists settlement reports and their fills.
type SettlementStore interface {
	Create(ctx context.Context, report SettlementReport, fills []Fill) error
	GetByBatch(ctx context.Context, batchID uint64) (SettlementReport, error)
	ListFills(ctx context.Context, batchID uint64) ([]Fill, error)
	ListRecent(ctx context.Context, limit int) ([]SettlementReport, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
