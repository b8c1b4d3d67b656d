package api

import (
	"net/http"
	"time"

	"github.com/onnwee/plotline/internal/ledger"
	"github.com/onnwee/plotline/internal/revenue"
)

// ConfigHandlers exposes the ledger's economic parameters. Reads are open;
// updates are operator-only and the ledger enforces that itself, so a
// forged operator claim in a token still cannot change anything the ledger
// would refuse.
type ConfigHandlers struct {
	ledger *ledger.Ledger
}

// NewConfigHandlers creates a ConfigHandlers instance.
func NewConfigHandlers(l *ledger.Ledger) *ConfigHandlers {
	return &ConfigHandlers{ledger: l}
}

// LedgerConfigResponse is the wire shape of the economic parameters.
type LedgerConfigResponse struct {
	EscrowDurationSeconds int64          `json:"escrow_duration_seconds"`
	RefundPercentage      int64          `json:"refund_percentage"`
	MovieCreationDeposit  int64          `json:"movie_creation_deposit"`
	DefaultScenePrice     int64          `json:"default_scene_price"`
	Shares                revenue.Shares `json:"shares"`
}

func newLedgerConfigResponse(cfg ledger.Config) LedgerConfigResponse {
	return LedgerConfigResponse{
		EscrowDurationSeconds: int64(cfg.EscrowDuration / time.Second),
		RefundPercentage:      cfg.RefundPercentage,
		MovieCreationDeposit:  cfg.MovieCreationDeposit,
		DefaultScenePrice:     cfg.DefaultScenePrice,
		Shares:                cfg.Shares,
	}
}

// UpdateConfigRequest is the body of POST /config. Absent fields are left
// unchanged; each present field applies through its own ledger transaction.
type UpdateConfigRequest struct {
	EscrowDurationSeconds *int64          `json:"escrow_duration_seconds,omitempty"`
	RefundPercentage      *int64          `json:"refund_percentage,omitempty"`
	MovieCreationDeposit  *int64          `json:"movie_creation_deposit,omitempty"`
	DefaultScenePrice     *int64          `json:"default_scene_price,omitempty"`
	Shares                *revenue.Shares `json:"shares,omitempty"`
}

// Config routes GET and POST /config.
func (h *ConfigHandlers) Config(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, r.Context(), http.StatusOK, newLedgerConfigResponse(h.ledger.Config()))
	case http.MethodPost:
		h.update(w, r)
	default:
		requireMethod(w, r, http.MethodGet)
	}
}

func (h *ConfigHandlers) update(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req UpdateConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// Settings apply in order; the first refusal aborts the rest. Changes
	// affect only subsequent operations, never settled escrows.
	if req.EscrowDurationSeconds != nil {
		d := time.Duration(*req.EscrowDurationSeconds) * time.Second
		if receipt, err := h.ledger.SetEscrowDuration(caller, d); err != nil {
			writeDomainError(w, r, err, receipt.TxRef)
			return
		}
	}
	if req.RefundPercentage != nil {
		if receipt, err := h.ledger.SetRefundPercentage(caller, *req.RefundPercentage); err != nil {
			writeDomainError(w, r, err, receipt.TxRef)
			return
		}
	}
	if req.MovieCreationDeposit != nil {
		if receipt, err := h.ledger.SetMovieCreationDeposit(caller, *req.MovieCreationDeposit); err != nil {
			writeDomainError(w, r, err, receipt.TxRef)
			return
		}
	}
	if req.DefaultScenePrice != nil {
		if receipt, err := h.ledger.SetDefaultScenePrice(caller, *req.DefaultScenePrice); err != nil {
			writeDomainError(w, r, err, receipt.TxRef)
			return
		}
	}
	if req.Shares != nil {
		if receipt, err := h.ledger.SetRevenueShares(caller, *req.Shares); err != nil {
			writeDomainError(w, r, err, receipt.TxRef)
			return
		}
	}

	writeJSON(w, r.Context(), http.StatusOK, newLedgerConfigResponse(h.ledger.Config()))
}
