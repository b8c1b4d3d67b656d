// Package api provides the HTTP surface of the Plotline claim, escrow and
// settlement engine, including standardized error handling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/plotline/internal/ledger"
	"github.com/onnwee/plotline/internal/middleware"
	"github.com/onnwee/plotline/internal/revenue"
	"github.com/onnwee/plotline/internal/slotlock"
	"github.com/onnwee/plotline/internal/tree"
	"github.com/onnwee/plotline/internal/verifier"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeAuthFailed indicates authentication failure.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeForbidden indicates the request is forbidden.
	ErrCodeForbidden = "forbidden"

	// ErrCodeConflict indicates a conflict with the current state.
	ErrCodeConflict = "conflict"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"
)

// Domain error codes. These match the codes the ledger records on failed
// receipts, so a client sees the same code over HTTP and in a receipt.
const (
	// ErrCodeSlotTaken indicates the slot is held by a live lock, a live
	// escrow or a completed scene.
	ErrCodeSlotTaken = "slot_already_taken"

	// ErrCodeMovieNotActive indicates the movie is missing or deactivated.
	ErrCodeMovieNotActive = "movie_not_active"

	// ErrCodeInsufficientPayment indicates the payment does not equal the
	// required price or deposit.
	ErrCodeInsufficientPayment = "insufficient_payment"

	// ErrCodeEscrowNotActive indicates a transition that requires an Active
	// (or, for refunds, Expired) escrow.
	ErrCodeEscrowNotActive = "escrow_not_active"

	// ErrCodeNotEscrowBuyer indicates the caller is not the escrow's buyer.
	ErrCodeNotEscrowBuyer = "not_escrow_buyer"

	// ErrCodeEscrowNotFound indicates no escrow exists for the scene id.
	ErrCodeEscrowNotFound = "escrow_not_found"

	// ErrCodeEscrowNotExpired indicates the escrow window has not elapsed.
	ErrCodeEscrowNotExpired = "escrow_not_expired"

	// ErrCodeNoEarnings indicates a withdrawal with a zero balance.
	ErrCodeNoEarnings = "no_earnings"

	// ErrCodeNotOperator indicates a non-operator called an operator-only
	// endpoint.
	ErrCodeNotOperator = "not_operator"

	// ErrCodeInvalidPercentage indicates a refund percentage outside 0-100.
	ErrCodeInvalidPercentage = "invalid_percentage"

	// ErrCodeInvalidShares indicates revenue shares not summing to 10000 bp.
	ErrCodeInvalidShares = "invalid_revenue_shares"

	// ErrCodeInvalidDuration indicates a non-positive duration setting.
	ErrCodeInvalidDuration = "invalid_duration"

	// ErrCodeInvalidSlot indicates a slot label other than A, B or C.
	ErrCodeInvalidSlot = "invalid_slot"

	// ErrCodeTransactionFailed indicates the referenced ledger transaction
	// reverted; its receipt carries the underlying code.
	ErrCodeTransactionFailed = "transaction_failed"

	// ErrCodeEventNotFound indicates no receipt exists for the reference or
	// the receipt carries no event of the expected type.
	ErrCodeEventNotFound = "event_not_found"

	// ErrCodeFieldMismatch indicates a ledger event contradicting an
	// expected field during verification.
	ErrCodeFieldMismatch = "field_mismatch"

	// ErrCodeSlotReassigned indicates the mirror row no longer belongs to
	// the verifying claimant.
	ErrCodeSlotReassigned = "slot_reassigned"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message. TxRef is
// set when the failure produced a ledger receipt the client can look up.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TxRef   string `json:"tx_ref,omitempty"`
}

// WriteError writes a standardized JSON error response.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
//
// The error_code is logged by the logging middleware for 4xx and 5xx
// responses when the handler calls middleware.SetErrorCode on the context
// and passes the updated context here.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	writeErrorDetail(w, ctx, status, ErrorDetail{Code: code, Message: message})
}

// WriteReceiptError writes an error response carrying the transaction
// reference of the failed ledger receipt.
func WriteReceiptError(w http.ResponseWriter, ctx context.Context, status int, code, message, txRef string) {
	writeErrorDetail(w, ctx, status, ErrorDetail{Code: code, Message: message, TxRef: txRef})
}

func writeErrorDetail(w http.ResponseWriter, ctx context.Context, status int, detail ErrorDetail) {
	// Propagate the code to the logging middleware through the writer chain.
	middleware.UpdateResponseContext(w, ctx)

	data, err := json.Marshal(ErrorResponse{Error: detail})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the HTTP status code for an error code.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest, ErrCodeInvalidSlot,
		ErrCodeInvalidPercentage, ErrCodeInvalidShares, ErrCodeInvalidDuration:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeInsufficientPayment:
		return http.StatusPaymentRequired
	case ErrCodeForbidden, ErrCodeNotEscrowBuyer, ErrCodeNotOperator:
		return http.StatusForbidden
	case ErrCodeNotFound, ErrCodeEscrowNotFound, ErrCodeEventNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeSlotTaken, ErrCodeMovieNotActive,
		ErrCodeEscrowNotActive, ErrCodeEscrowNotExpired, ErrCodeNoEarnings,
		ErrCodeTransactionFailed, ErrCodeFieldMismatch, ErrCodeSlotReassigned:
		return http.StatusConflict
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// domainErrorCode maps a ledger, slot-lock, verifier or tree error to its
// API code. Unknown errors map to internal_error.
func domainErrorCode(err error) string {
	var mismatch *verifier.FieldMismatchError
	switch {
	case errors.Is(err, ledger.ErrSlotAlreadyTaken), errors.Is(err, slotlock.ErrSlotTaken),
		errors.Is(err, tree.ErrSlotOccupied):
		return ErrCodeSlotTaken
	case errors.Is(err, ledger.ErrMovieNotActive), errors.Is(err, slotlock.ErrMovieNotActive):
		return ErrCodeMovieNotActive
	case errors.Is(err, ledger.ErrInsufficientPayment):
		return ErrCodeInsufficientPayment
	case errors.Is(err, ledger.ErrEscrowNotActive):
		return ErrCodeEscrowNotActive
	case errors.Is(err, ledger.ErrNotEscrowBuyer):
		return ErrCodeNotEscrowBuyer
	case errors.Is(err, ledger.ErrEscrowNotFound):
		return ErrCodeEscrowNotFound
	case errors.Is(err, ledger.ErrEscrowNotExpired):
		return ErrCodeEscrowNotExpired
	case errors.Is(err, ledger.ErrNoEarnings):
		return ErrCodeNoEarnings
	case errors.Is(err, ledger.ErrNotOperator):
		return ErrCodeNotOperator
	case errors.Is(err, ledger.ErrInvalidPercentage):
		return ErrCodeInvalidPercentage
	case errors.Is(err, revenue.ErrInvalidShares):
		return ErrCodeInvalidShares
	case errors.Is(err, ledger.ErrInvalidDuration):
		return ErrCodeInvalidDuration
	case errors.Is(err, tree.ErrInvalidSlot):
		return ErrCodeInvalidSlot
	case errors.Is(err, tree.ErrMovieNotFound), errors.Is(err, tree.ErrSceneNotFound),
		errors.Is(err, ledger.ErrReceiptNotFound):
		return ErrCodeNotFound
	case errors.Is(err, verifier.ErrTransactionFailed):
		return ErrCodeTransactionFailed
	case errors.Is(err, verifier.ErrEventNotFound):
		return ErrCodeEventNotFound
	case errors.As(err, &mismatch):
		return ErrCodeFieldMismatch
	case errors.Is(err, verifier.ErrSlotReassigned):
		return ErrCodeSlotReassigned
	default:
		return ErrCodeInternal
	}
}

// writeDomainError resolves err to its code and status, tags the request
// context for logging, and writes the error envelope. txRef may be empty.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error, txRef string) {
	code := domainErrorCode(err)
	if code == ErrCodeInternal {
		slog.ErrorContext(r.Context(), "request failed", "error", err, "path", r.URL.Path)
	}
	ctx := middleware.SetErrorCode(r.Context(), code)
	writeErrorDetail(w, ctx, StatusCodeMapping(code), ErrorDetail{
		Code:    code,
		Message: err.Error(),
		TxRef:   txRef,
	})
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// decodeBody decodes a JSON request body into dst, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// requireMethod enforces the HTTP method on a mux-routed handler.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return false
	}
	return true
}

// requireCaller returns the authenticated caller address, writing a 401 if
// the request carries none.
func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := middleware.GetCallerAddress(r.Context())
	if caller == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return "", false
	}
	return caller, true
}
