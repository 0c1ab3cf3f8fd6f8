package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/veilswap/veilswap/internal/domain"
	"github.com/veilswap/veilswap/internal/service"
)

// BatchHandler serves the batch lifecycle and settlement history endpoints.
type BatchHandler struct {
	svc    *service.AuctionService
	logger *slog.Logger
}

// NewBatchHandler creates a BatchHandler.
func NewBatchHandler(svc *service.AuctionService, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{svc: svc, logger: logHandler(logger, "batch")}
}

// GetCurrent returns the live batch and its phase deadlines.
// GET /api/batch
func (h *BatchHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	batch := h.svc.CurrentBatch()
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":        batch.ID,
		"phase":           string(batch.Phase),
		"phase_start":     batch.PhaseStart,
		"commit_deadline": batch.CommitDeadline(),
		"reveal_deadline": batch.RevealDeadline(),
		"revealed_count":  h.svc.RevealedCount(),
	})
}

// Advance moves the batch clock forward when its window has elapsed. The
// operation is permissionless; anyone may nudge the clock.
// POST /api/batch/advance
func (h *BatchHandler) Advance(w http.ResponseWriter, r *http.Request) {
	batch, err := h.svc.AdvancePhase(r.Context())
	if err != nil {
		writeAuctionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":    batch.ID,
		"phase":       string(batch.Phase),
		"phase_start": batch.PhaseStart,
	})
}

// Settle clears and settles the current batch.
// POST /api/batch/settle
func (h *BatchHandler) Settle(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.SettleBatch(r.Context())
	if err != nil {
		writeAuctionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResponse(report, nil))
}

// GetSettlement returns the persisted settlement of a batch with its fills.
// GET /api/batch/{id}/settlement
func (h *BatchHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	report, fills, err := h.svc.GetSettlement(r.Context(), batchID)
	if err != nil {
		writeAuctionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResponse(report, fills))
}

// ListSettlements returns the most recent settlement reports.
// GET /api/settlements
func (h *BatchHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	reports, err := h.svc.ListRecentSettlements(r.Context(), opts.Limit)
	if err != nil {
		writeAuctionError(w, h.logger, err)
		return
	}
	out := make([]map[string]any, 0, len(reports))
	for _, rep := range reports {
		out = append(out, toSettlementResponse(rep, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": out})
}

type fillResponse struct {
	CommitID  uint64 `json:"commit_id"`
	Committer string `json:"committer"`
	TokenIn   string `json:"token_in"`
	TokenOut  string `json:"token_out"`
	AmountIn  uint64 `json:"amount_in"`
	AmountOut uint64 `json:"amount_out"`
	Outcome   string `json:"outcome"`
}

func toSettlementResponse(report domain.SettlementReport, fills []domain.Fill) map[string]any {
	resp := map[string]any{
		"batch_id":         report.BatchID,
		"clearing_price":   report.ClearingPrice.String(),
		"price_source":     string(report.PriceSource),
		"matched_volume":   report.MatchedVolume,
		"order_count":      report.OrderCount,
		"executed_count":   report.ExecutedCount,
		"skipped_count":    report.SkippedCount,
		"slashed_count":    report.SlashedCount,
		"total_collateral": report.TotalCollateral,
		"total_refunded":   report.TotalRefunded,
		"total_slashed":    report.TotalSlashed,
		"settled_at":       report.SettledAt.UTC().Format(time.RFC3339Nano),
	}
	if report.Signature != "" {
		resp["signature"] = report.Signature
	}
	if fills != nil {
		fr := make([]fillResponse, 0, len(fills))
		for _, f := range fills {
			fr = append(fr, fillResponse{
				CommitID:  f.CommitID,
				Committer: f.Committer,
				TokenIn:   f.TokenIn,
				TokenOut:  f.TokenOut,
				AmountIn:  f.AmountIn,
				AmountOut: f.AmountOut,
				Outcome:   string(f.Outcome),
			})
		}
		resp["fills"] = fr
	}
	return resp
}
