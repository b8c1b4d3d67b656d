package api

import (
	"net/http"
	"strings"

	"github.com/onnwee/plotline/internal/ledger"
	"github.com/onnwee/plotline/internal/middleware"
	"github.com/onnwee/plotline/internal/tree"
	"github.com/onnwee/plotline/internal/validate"
)

// EscrowHandlers submits transactions to the settlement ledger and serves
// escrow and receipt reads. Every submission returns a receipt whose tx_ref
// the verification endpoints key on.
type EscrowHandlers struct {
	ledger *ledger.Ledger
}

// NewEscrowHandlers creates an EscrowHandlers instance.
func NewEscrowHandlers(l *ledger.Ledger) *EscrowHandlers {
	return &EscrowHandlers{ledger: l}
}

// ClaimSlotRequest is the body of POST /escrows. Ids are in the ledger's
// id space: ParentSceneID for a first-generation claim is the ledger
// genesis scene id returned at movie registration.
type ClaimSlotRequest struct {
	MovieID       uint64 `json:"movie_id"`
	ParentSceneID uint64 `json:"parent_scene_id"`
	Slot          string `json:"slot"`
	Payment       int64  `json:"payment"`
}

// SubmitClaim handles POST /escrows.
func (h *EscrowHandlers) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req ClaimSlotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	slot, err := tree.ParseSlot(req.Slot)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidSlot)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidSlot, "Slot must be A, B or C")
		return
	}

	receipt, err := h.ledger.ClaimSlot(r.Context(), caller, req.MovieID, req.ParentSceneID, slot, req.Payment)
	if err != nil {
		writeDomainError(w, r, err, receipt.TxRef)
		return
	}
	writeJSON(w, r.Context(), http.StatusCreated, newReceiptResponse(receipt))
}

// EscrowByID routes /escrows/{id} and its confirm, refund and check-expired
// transitions. The id is a ledger scene id.
func (h *EscrowHandlers) EscrowByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/escrows/"), "/")
	id, err := parseID(parts[0])
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid escrow id")
		return
	}

	switch {
	case len(parts) == 1:
		h.getEscrow(w, r, id)
	case len(parts) == 2 && parts[1] == "confirm":
		h.confirm(w, r, id)
	case len(parts) == 2 && parts[1] == "refund":
		h.refund(w, r, id)
	case len(parts) == 2 && parts[1] == "check-expired":
		h.checkExpired(w, r, id)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Not found")
	}
}

func (h *EscrowHandlers) getEscrow(w http.ResponseWriter, r *http.Request, id uint64) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	esc, err := h.ledger.Escrow(id)
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newEscrowResponse(esc))
}

// ConfirmSceneRequest is the body of POST /escrows/{id}/confirm.
// ContentRef points at the generated asset the buyer is accepting.
type ConfirmSceneRequest struct {
	ContentRef string `json:"content_ref"`
}

func (h *EscrowHandlers) confirm(w http.ResponseWriter, r *http.Request, id uint64) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req ConfirmSceneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	contentRef, err := validate.AssetRef(req.ContentRef)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "content_ref must be a valid asset URL")
		return
	}

	receipt, err := h.ledger.ConfirmScene(r.Context(), caller, id, contentRef)
	if err != nil {
		writeDomainError(w, r, err, receipt.TxRef)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newReceiptResponse(receipt))
}

func (h *EscrowHandlers) refund(w http.ResponseWriter, r *http.Request, id uint64) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	receipt, err := h.ledger.RequestRefund(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, r, err, receipt.TxRef)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newReceiptResponse(receipt))
}

// checkExpired requires no authentication: expiry is a fact of time, and
// janitorial sweeps may come from anywhere. The transition moves no funds.
func (h *EscrowHandlers) checkExpired(w http.ResponseWriter, r *http.Request, id uint64) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	receipt, err := h.ledger.CheckExpiredEscrow(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, receipt.TxRef)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newReceiptResponse(receipt))
}

// GetReceipt handles GET /receipts/{tx_ref}.
func (h *EscrowHandlers) GetReceipt(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	txRef := strings.TrimPrefix(r.URL.Path, "/receipts/")
	if txRef == "" || strings.Contains(txRef, "/") {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid transaction reference")
		return
	}

	receipt, err := h.ledger.Receipt(txRef)
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newReceiptResponse(receipt))
}
