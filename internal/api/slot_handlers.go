package api

import (
	"net/http"

	"github.com/onnwee/plotline/internal/middleware"
	"github.com/onnwee/plotline/internal/slotlock"
	"github.com/onnwee/plotline/internal/tree"
	"github.com/onnwee/plotline/internal/verifier"
)

// SlotHandlers serves the off-ledger claim flow: lock acquisition and the
// three payment verification endpoints. The caller's authenticated address
// is always the claimant; clients never assert whose claim is verified.
type SlotHandlers struct {
	locks    *slotlock.Manager
	verifier *verifier.Verifier
}

// NewSlotHandlers creates a SlotHandlers instance.
func NewSlotHandlers(locks *slotlock.Manager, v *verifier.Verifier) *SlotHandlers {
	return &SlotHandlers{locks: locks, verifier: v}
}

// LockSlotRequest is the body of POST /slots/lock. ParentSceneID is a
// mirror row id.
type LockSlotRequest struct {
	MovieID       uint64 `json:"movie_id"`
	ParentSceneID uint64 `json:"parent_scene_id"`
	Slot          string `json:"slot"`
}

// LockSlot handles POST /slots/lock.
func (h *SlotHandlers) LockSlot(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req LockSlotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	slot, err := tree.ParseSlot(req.Slot)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidSlot)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidSlot, "Slot must be A, B or C")
		return
	}

	node, err := h.locks.AcquireLock(r.Context(), req.MovieID, req.ParentSceneID, slot, caller)
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}
	writeJSON(w, r.Context(), http.StatusCreated, newSceneResponse(node))
}

// VerifyPaymentRequest is the body of POST /slots/verify-payment. SceneID
// is the mirror row id returned by lock acquisition; Amount must match the
// settled ledger event exactly.
type VerifyPaymentRequest struct {
	TxRef   string `json:"tx_ref"`
	SceneID uint64 `json:"scene_id"`
	Amount  int64  `json:"amount"`
}

// VerifyPayment handles POST /slots/verify-payment.
func (h *SlotHandlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req VerifyPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TxRef == "" || req.SceneID == 0 || req.Amount <= 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "tx_ref, scene_id and amount are required")
		return
	}

	node, err := h.verifier.VerifyClaim(r.Context(), req.TxRef, verifier.ExpectedClaim{
		SceneID: req.SceneID,
		Buyer:   caller,
		Amount:  req.Amount,
	})
	if err != nil {
		writeDomainError(w, r, err, req.TxRef)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newSceneResponse(node))
}

// VerifyConfirmationRequest is the body of POST /slots/verify-confirmation.
type VerifyConfirmationRequest struct {
	TxRef   string `json:"tx_ref"`
	SceneID uint64 `json:"scene_id"`
}

// VerifyConfirmation handles POST /slots/verify-confirmation.
func (h *SlotHandlers) VerifyConfirmation(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req VerifyConfirmationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TxRef == "" || req.SceneID == 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "tx_ref and scene_id are required")
		return
	}

	node, err := h.verifier.VerifyConfirmation(r.Context(), req.TxRef, verifier.ExpectedConfirmation{
		SceneID: req.SceneID,
		Creator: caller,
	})
	if err != nil {
		writeDomainError(w, r, err, req.TxRef)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newSceneResponse(node))
}

// VerifyRefundRequest is the body of POST /slots/verify-refund.
type VerifyRefundRequest struct {
	TxRef   string `json:"tx_ref"`
	SceneID uint64 `json:"scene_id"`
}

// VerifyRefundResponse reports a verified refund. OrphanedAssetURL is set
// when the refund landed after an asset was already generated for the slot;
// the asset itself is left in place.
type VerifyRefundResponse struct {
	RefundAmount     int64  `json:"refund_amount"`
	OrphanedAssetURL string `json:"orphaned_asset_url,omitempty"`
}

// VerifyRefund handles POST /slots/verify-refund.
func (h *SlotHandlers) VerifyRefund(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req VerifyRefundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TxRef == "" || req.SceneID == 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "tx_ref and scene_id are required")
		return
	}

	result, err := h.verifier.VerifyRefund(r.Context(), req.TxRef, verifier.ExpectedRefund{
		SceneID: req.SceneID,
		Buyer:   caller,
	})
	if err != nil {
		writeDomainError(w, r, err, req.TxRef)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, VerifyRefundResponse{
		RefundAmount:     result.RefundAmount,
		OrphanedAssetURL: result.OrphanedAssetURL,
	})
}
