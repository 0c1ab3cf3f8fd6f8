package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/veilswap/veilswap/internal/auction"
	"github.com/veilswap/veilswap/internal/domain"
	"github.com/veilswap/veilswap/internal/service"
)

// CommitHandler serves the commitment lifecycle endpoints.
type CommitHandler struct {
	svc    *service.AuctionService
	logger *slog.Logger
}

// NewCommitHandler creates a CommitHandler.
func NewCommitHandler(svc *service.AuctionService, logger *slog.Logger) *CommitHandler {
	return &CommitHandler{svc: svc, logger: logHandler(logger, "commit")}
}

type commitRequest struct {
	Committer  string `json:"committer"`
	CommitHash string `json:"commit_hash"`
	Collateral uint64 `json:"collateral"`
}

type commitmentResponse struct {
	CommitID   uint64     `json:"commit_id"`
	Committer  string     `json:"committer"`
	CommitHash string     `json:"commit_hash"`
	Collateral uint64     `json:"collateral"`
	BatchID    uint64     `json:"batch_id"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	RevealedAt *time.Time `json:"revealed_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func toCommitmentResponse(rec domain.OrderCommitment) commitmentResponse {
	return commitmentResponse{
		CommitID:   rec.CommitID,
		Committer:  rec.Committer,
		CommitHash: rec.CommitHash,
		Collateral: rec.Collateral,
		BatchID:    rec.BatchID,
		Status:     string(rec.Status),
		CreatedAt:  rec.CreatedAt,
		RevealedAt: rec.RevealedAt,
		ResolvedAt: rec.ResolvedAt,
	}
}

// Commit accepts a new order commitment.
// POST /api/commits
func (h *CommitHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Committer == "" || req.CommitHash == "" {
		writeError(w, http.StatusBadRequest, "committer and commit_hash are required")
		return
	}

	rec, err := h.svc.Commit(r.Context(), req.Committer, req.CommitHash, req.Collateral)
	if err != nil {
		writeAuctionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommitmentResponse(rec))
}

type revealRequest struct {
	TokenIn      string `json:"token_in"`
	TokenOut     string `json:"token_out"`
	AmountIn     uint64 `json:"amount_in"`
	MinAmountOut uint64 `json:"min_amount_out"`
	Secret       string `json:"secret"`
	PriorityBid  uint64 `json:"priority_bid"`
}

// Reveal discloses the order behind a commitment.
// POST /api/commits/{id}/reveal
func (h *CommitHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	commitID, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid commit id")
		return
	}

	var req revealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	order, err := h.svc.Reveal(r.Context(), commitID, auction.RevealParams{
		TokenIn:      req.TokenIn,
		TokenOut:     req.TokenOut,
		AmountIn:     req.AmountIn,
		MinAmountOut: req.MinAmountOut,
		Secret:       req.Secret,
		PriorityBid:  req.PriorityBid,
	})
	if err != nil {
		writeAuctionError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commit_id":      order.CommitID,
		"batch_id":       h.svc.CurrentBatch().ID,
		"token_in":       order.TokenIn,
		"token_out":      order.TokenOut,
		"amount_in":      order.AmountIn,
		"min_amount_out": order.MinAmountOut,
		"priority_bid":   order.PriorityBid,
	})
}

// GetCommitment returns a commitment by ID, live or historical.
// GET /api/commits/{id}
func (h *CommitHandler) GetCommitment(w http.ResponseWriter, r *http.Request) {
	commitID, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid commit id")
		return
	}

	rec, err := h.svc.GetCommitment(r.Context(), commitID)
	if err != nil {
		writeAuctionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommitmentResponse(rec))
}

// writeAuctionError maps domain sentinel errors onto HTTP statuses. Anything
// unmapped is logged and reported as a 500 without leaking internals.
func writeAuctionError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrWrongPhase),
		errors.Is(err, domain.ErrAlreadyRevealed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPhaseNotReady):
		writeError(w, http.StatusTooEarly, err.Error())
	case errors.Is(err, domain.ErrInsufficientCollateral),
		errors.Is(err, domain.ErrInvalidReveal):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotEligible):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrUnknownCommitment),
		errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error("request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
