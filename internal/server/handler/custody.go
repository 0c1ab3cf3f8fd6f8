package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/veilswap/veilswap/internal/custody"
)

// CustodyHandler serves deposit and balance endpoints against the in-memory
// vault. Deposits stand in for on-chain transfers into custody.
type CustodyHandler struct {
	vault  *custody.Vault
	logger *slog.Logger
}

// NewCustodyHandler creates a CustodyHandler.
func NewCustodyHandler(vault *custody.Vault, logger *slog.Logger) *CustodyHandler {
	return &CustodyHandler{vault: vault, logger: logHandler(logger, "custody")}
}

type depositRequest struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  uint64 `json:"amount"`
}

// Deposit credits an account's vault balance.
// POST /api/custody/deposit
func (h *CustodyHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Account == "" || req.Token == "" || req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "account, token, and a positive amount are required")
		return
	}

	h.vault.Deposit(req.Account, req.Token, req.Amount)
	writeJSON(w, http.StatusOK, map[string]any{
		"account": req.Account,
		"token":   req.Token,
		"balance": h.vault.Balance(req.Account, req.Token),
	})
}

// GetBalance returns an account's balance for one token plus its escrowed
// collateral.
// GET /api/custody/balance?account=...&token=...
func (h *CustodyHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	account := q.Get("account")
	token := q.Get("token")
	if account == "" || token == "" {
		writeError(w, http.StatusBadRequest, "account and token are required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account":  account,
		"token":    token,
		"balance":  h.vault.Balance(account, token),
		"escrowed": h.vault.Escrowed(account),
	})
}
