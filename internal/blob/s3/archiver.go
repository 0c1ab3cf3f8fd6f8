package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/veilswap/veilswap/internal/domain"
)

// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these implicitly; the archiver only needs the time-ranged reads
// it actually calls, not the full store contracts.

// SettlementArchiveStore provides read access to settlements for archival.
type SettlementArchiveStore interface {
	// ListBefore returns all settlements settled strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementReport, error)
	// ListFills returns the fills of one settled batch.
	ListFills(ctx context.Context, batchID uint64) ([]domain.Fill, error)
}

// AuditArchiveStore provides read access to audit entries for archival.
type AuditArchiveStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	Log(ctx context.Context, event string, detail map[string]any) error
}

// ArchiveWriter is the upload surface the archiver needs. *Writer satisfies
// it; the multipart path carries archives too large for a single PutObject.
type ArchiveWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// multipartThreshold is the archive size above which uploads switch to the
// multipart path.
const multipartThreshold = 8 * 1024 * 1024

// archivedSettlement is the JSONL record: one report with its fills inline,
// so an archive file is self-contained.
type archivedSettlement struct {
	BatchID         uint64        `json:"batch_id"`
	ClearingPrice   string        `json:"clearing_price"`
	PriceSource     string        `json:"price_source"`
	MatchedVolume   uint64        `json:"matched_volume"`
	OrderCount      int           `json:"order_count"`
	ExecutedCount   int           `json:"executed_count"`
	SkippedCount    int           `json:"skipped_count"`
	SlashedCount    int           `json:"slashed_count"`
	TotalCollateral uint64        `json:"total_collateral"`
	TotalRefunded   uint64        `json:"total_refunded"`
	TotalSlashed    uint64        `json:"total_slashed"`
	Signature       string        `json:"signature,omitempty"`
	SettledAt       time.Time     `json:"settled_at"`
	Fills           []domain.Fill `json:"fills,omitempty"`
}

// ArchiveImpl implements domain.Archiver by reading old settlement and audit
// history, serializing it to JSONL, and uploading the result to S3.
//
// Deletion of archived records from the primary store is intentionally NOT
// performed here; that is a separate, explicit step executed after the
// archive has been verified.
type ArchiveImpl struct {
	writer      ArchiveWriter
	settlements SettlementArchiveStore
	audit       AuditArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer ArchiveWriter, settlements SettlementArchiveStore, audit AuditArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		settlements: settlements,
		audit:       audit,
	}
}

// ArchiveSettlements uploads all settlements settled before the cutoff,
// fills included, to archive/settlements/YYYY-MM.jsonl. The archival event
// itself is recorded in the audit log. Returns the number of settlements
// archived.
func (a *ArchiveImpl) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	reports, err := a.settlements.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	if len(reports) == 0 {
		return 0, nil
	}

	records := make([]archivedSettlement, 0, len(reports))
	for _, r := range reports {
		fills, err := a.settlements.ListFills(ctx, r.BatchID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive settlements fills for batch %d: %w", r.BatchID, err)
		}
		price := "0"
		if r.ClearingPrice != nil {
			price = r.ClearingPrice.String()
		}
		records = append(records, archivedSettlement{
			BatchID:         r.BatchID,
			ClearingPrice:   price,
			PriceSource:     string(r.PriceSource),
			MatchedVolume:   r.MatchedVolume,
			OrderCount:      r.OrderCount,
			ExecutedCount:   r.ExecutedCount,
			SkippedCount:    r.SkippedCount,
			SlashedCount:    r.SlashedCount,
			TotalCollateral: r.TotalCollateral,
			TotalRefunded:   r.TotalRefunded,
			TotalSlashed:    r.TotalSlashed,
			Signature:       r.Signature,
			SettledAt:       r.SettledAt,
			Fills:           fills,
		})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}

	path := archivePath("settlements", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive.settlements", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive settlements audit log: %w", err)
	}
	return count, nil
}

// ArchiveAudit uploads all audit entries created before the cutoff to
// archive/audit/YYYY-MM.jsonl and returns the count archived. The caller
// deletes the archived rows afterwards.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	return int64(len(entries)), nil
}

// upload picks the single-shot or multipart path based on archive size.
func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/settlements/2026-08.jsonl
//	archive/audit/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
