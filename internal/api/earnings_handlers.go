package api

import (
	"net/http"

	"github.com/onnwee/plotline/internal/ledger"
)

// EarningsHandlers serves pull-payment balances. Earnings accumulate on the
// ledger as scenes confirm; holders withdraw explicitly.
type EarningsHandlers struct {
	ledger *ledger.Ledger
}

// NewEarningsHandlers creates an EarningsHandlers instance.
func NewEarningsHandlers(l *ledger.Ledger) *EarningsHandlers {
	return &EarningsHandlers{ledger: l}
}

// EarningsResponse is the body of GET /earnings.
type EarningsResponse struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

// GetEarnings handles GET /earnings for the authenticated caller.
func (h *EarningsHandlers) GetEarnings(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, EarningsResponse{
		Address: caller,
		Balance: h.ledger.Balance(caller),
	})
}

// WithdrawResponse is the body of POST /earnings/withdraw.
type WithdrawResponse struct {
	TxRef  string `json:"tx_ref"`
	Amount int64  `json:"amount"`
}

// Withdraw handles POST /earnings/withdraw. The full balance pays out; a
// zero balance is a conflict, not a zero-amount transfer.
func (h *EarningsHandlers) Withdraw(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	amount, receipt, err := h.ledger.WithdrawEarnings(r.Context(), caller)
	if err != nil {
		writeDomainError(w, r, err, receipt.TxRef)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, WithdrawResponse{
		TxRef:  receipt.TxRef,
		Amount: amount,
	})
}
