package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/plotline/internal/ledger"
	"github.com/onnwee/plotline/internal/slotlock"
	"github.com/onnwee/plotline/internal/verifier"
)

func TestWriteError_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, context.Background(), http.StatusNotFound, ErrCodeNotFound, "Scene not found")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if resp.Error.Code != ErrCodeNotFound || resp.Error.Message != "Scene not found" {
		t.Errorf("envelope = %+v", resp)
	}
	if resp.Error.TxRef != "" {
		t.Errorf("tx_ref = %q, want omitted", resp.Error.TxRef)
	}
}

func TestWriteReceiptError_CarriesTxRef(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteReceiptError(rr, context.Background(), http.StatusConflict, ErrCodeSlotTaken, "Slot taken", "tx-123")

	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if resp.Error.TxRef != "tx-123" {
		t.Errorf("tx_ref = %q, want tx-123", resp.Error.TxRef)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeInvalidSlot, http.StatusBadRequest},
		{ErrCodeAuthFailed, http.StatusUnauthorized},
		{ErrCodeInsufficientPayment, http.StatusPaymentRequired},
		{ErrCodeNotEscrowBuyer, http.StatusForbidden},
		{ErrCodeNotOperator, http.StatusForbidden},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeEscrowNotFound, http.StatusNotFound},
		{ErrCodeEventNotFound, http.StatusNotFound},
		{ErrCodeSlotTaken, http.StatusConflict},
		{ErrCodeEscrowNotActive, http.StatusConflict},
		{ErrCodeFieldMismatch, http.StatusConflict},
		{ErrCodeSlotReassigned, http.StatusConflict},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{ErrCodeInternal, http.StatusInternalServerError},
		{"something_unknown", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusCodeMapping(tt.code); got != tt.want {
			t.Errorf("StatusCodeMapping(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestDomainErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ledger.ErrSlotAlreadyTaken, ErrCodeSlotTaken},
		{slotlock.ErrSlotTaken, ErrCodeSlotTaken},
		{slotlock.ErrMovieNotActive, ErrCodeMovieNotActive},
		{ledger.ErrInsufficientPayment, ErrCodeInsufficientPayment},
		{ledger.ErrNotEscrowBuyer, ErrCodeNotEscrowBuyer},
		{ledger.ErrReceiptNotFound, ErrCodeNotFound},
		{verifier.ErrTransactionFailed, ErrCodeTransactionFailed},
		{verifier.ErrEventNotFound, ErrCodeEventNotFound},
		{verifier.ErrSlotReassigned, ErrCodeSlotReassigned},
		{&verifier.FieldMismatchError{Field: "amount"}, ErrCodeFieldMismatch},
		{context.DeadlineExceeded, ErrCodeInternal},
	}
	for _, tt := range tests {
		if got := domainErrorCode(tt.err); got != tt.want {
			t.Errorf("domainErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
