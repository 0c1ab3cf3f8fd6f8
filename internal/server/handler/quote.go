package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/veilswap/veilswap/internal/service"
)

// QuoteHandler serves pricing endpoints backed by the pool and quote cache.
type QuoteHandler struct {
	svc    *service.QuoteService
	logger *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler.
func NewQuoteHandler(svc *service.QuoteService, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{svc: svc, logger: logHandler(logger, "quote")}
}

// GetQuote returns the current spot price, or a sized quote when token_in,
// token_out, and amount_in are all supplied.
// GET /api/quote
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokenIn := q.Get("token_in")
	tokenOut := q.Get("token_out")
	amountStr := q.Get("amount_in")

	if tokenIn == "" && tokenOut == "" && amountStr == "" {
		spot, err := h.svc.Spot(r.Context())
		if err != nil {
			h.logger.Error("spot query failed", slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, "spot price unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"spot": spot.String()})
		return
	}

	if tokenIn == "" || tokenOut == "" || amountStr == "" {
		writeError(w, http.StatusBadRequest, "token_in, token_out, and amount_in are required for sized quotes")
		return
	}
	amountIn, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil || amountIn == 0 {
		writeError(w, http.StatusBadRequest, "amount_in must be a positive integer")
		return
	}

	out, err := h.svc.Quote(r.Context(), tokenIn, tokenOut, amountIn)
	if err != nil {
		h.logger.Warn("quote failed",
			slog.String("token_in", tokenIn),
			slog.String("token_out", tokenOut),
			slog.String("error", err.Error()))
		writeError(w, http.StatusUnprocessableEntity, "quote unavailable for requested trade")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token_in":   tokenIn,
		"token_out":  tokenOut,
		"amount_in":  amountIn,
		"amount_out": out,
	})
}
