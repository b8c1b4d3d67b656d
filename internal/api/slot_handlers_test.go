package api

import (
	"fmt"
	"net/http"
	"testing"
)

func TestLockSlot_ReservesRow(t *testing.T) {
	fx := newFixture(t)
	created := createMovie(t, fx)

	locked := lockSlot(t, fx, created.Movie.ID, created.MirrorGenesisSceneID, "A", "0xalice")
	if locked.Status != "locked" || locked.LockedBy != "0xalice" || locked.Slot != "A" {
		t.Errorf("lock row = %+v", locked)
	}
	if locked.LockedUntil == nil {
		t.Error("missing locked_until")
	}
}

func TestLockSlot_Conflict(t *testing.T) {
	fx := newFixture(t)
	created := createMovie(t, fx)
	lockSlot(t, fx, created.Movie.ID, created.MirrorGenesisSceneID, "A", "0xalice")

	rr := doRequest(t, fx.slots.LockSlot, http.MethodPost, "/slots/lock", "0xbob", LockSlotRequest{
		MovieID:       created.Movie.ID,
		ParentSceneID: created.MirrorGenesisSceneID,
		Slot:          "A",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if code := errorCodeOf(t, rr); code != ErrCodeSlotTaken {
		t.Errorf("code = %q, want slot_already_taken", code)
	}
}

func TestLockSlot_InvalidSlotLabel(t *testing.T) {
	fx := newFixture(t)
	created := createMovie(t, fx)

	rr := doRequest(t, fx.slots.LockSlot, http.MethodPost, "/slots/lock", "0xalice", LockSlotRequest{
		MovieID:       created.Movie.ID,
		ParentSceneID: created.MirrorGenesisSceneID,
		Slot:          "D",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if code := errorCodeOf(t, rr); code != ErrCodeInvalidSlot {
		t.Errorf("code = %q, want invalid_slot", code)
	}
}

func TestVerifyPayment_TransitionsMirror(t *testing.T) {
	fx := newFixture(t)
	created := createMovie(t, fx)
	locked := lockSlot(t, fx, created.Movie.ID, created.MirrorGenesisSceneID, "A", "0xalice")
	claim := claimSlot(t, fx, created.Movie.ID, created.Movie.GenesisSceneID, "A", "0xalice")

	rr := doRequest(t, fx.slots.VerifyPayment, http.MethodPost, "/slots/verify-payment", "0xalice",
		VerifyPaymentRequest{TxRef: claim.TxRef, SceneID: locked.ID, Amount: scenePrice})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var node sceneResponse
	decodeResponse(t, rr, &node)
	if node.Status != "escrowed" {
		t.Errorf("status = %q, want escrowed", node.Status)
	}
	if node.LedgerSceneID == nil || *node.LedgerSceneID != claim.Event.SceneID {
		t.Errorf("ledger_scene_id = %v, want %d", node.LedgerSceneID, claim.Event.SceneID)
	}
}

func TestVerifyPayment_UnknownTxRef(t *testing.T) {
	fx := newFixture(t)
	created := createMovie(t, fx)
	locked := lockSlot(t, fx, created.Movie.ID, created.MirrorGenesisSceneID, "A", "0xalice")

	rr := doRequest(t, fx.slots.VerifyPayment, http.MethodPost, "/slots/verify-payment", "0xalice",
		VerifyPaymentRequest{TxRef: "no-such-ref", SceneID: locked.ID, Amount: scenePrice})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if code := errorCodeOf(t, rr); code != ErrCodeEventNotFound {
		t.Errorf("code = %q, want event_not_found", code)
	}
}

func TestVerifyPayment_WrongCaller(t *testing.T) {
	fx := newFixture(t)
	created := createMovie(t, fx)
	locked := lockSlot(t, fx, created.Movie.ID, created.MirrorGenesisSceneID, "A", "0xalice")
	claim := claimSlot(t, fx, created.Movie.ID, created.Movie.GenesisSceneID, "A", "0xalice")

	// The paying buyer is re-derived from the event; another caller cannot
	// verify someone else's claim onto their own identity.
	rr := doRequest(t, fx.slots.VerifyPayment, http.MethodPost, "/slots/verify-payment", "0xbob",
		VerifyPaymentRequest{TxRef: claim.TxRef, SceneID: locked.ID, Amount: scenePrice})
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if code := errorCodeOf(t, rr); code != ErrCodeFieldMismatch {
		t.Errorf("code = %q, want field_mismatch", code)
	}
}

func TestVerifyConfirmation_CompletesScene(t *testing.T) {
	fx := newFixture(t)
	created := createMovie(t, fx)
	locked := lockSlot(t, fx, created.Movie.ID, created.MirrorGenesisSceneID, "A", "0xalice")
	claim := claimSlot(t, fx, created.Movie.ID, created.Movie.GenesisSceneID, "A", "0xalice")

	rr := doRequest(t, fx.slots.VerifyPayment, http.MethodPost, "/slots/verify-payment", "0xalice",
		VerifyPaymentRequest{TxRef: claim.TxRef, SceneID: locked.ID, Amount: scenePrice})
	if rr.Code != http.StatusOK {
		t.Fatalf("verify payment status = %d: %s", rr.Code, rr.Body.String())
	}

	confirmPath := fmt.Sprintf("/escrows/%d/confirm", claim.Event.SceneID)
	rr = doRequest(t, fx.escrows.EscrowByID, http.MethodPost, confirmPath, "0xalice",
		ConfirmSceneRequest{ContentRef: "s3://plotline/scene.mp4"})
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm status = %d: %s", rr.Code, rr.Body.String())
	}
	var confirm receiptResponse
	decodeResponse(t, rr, &confirm)

	rr = doRequest(t, fx.slots.VerifyConfirmation, http.MethodPost, "/slots/verify-confirmation", "0xalice",
		VerifyConfirmationRequest{TxRef: confirm.TxRef, SceneID: locked.ID})
	if rr.Code != http.StatusOK {
		t.Fatalf("verify confirmation status = %d: %s", rr.Code, rr.Body.String())
	}
	var node sceneResponse
	decodeResponse(t, rr, &node)
	if node.Status != "completed" {
		t.Errorf("status = %q, want completed", node.Status)
	}
	if node.CreatorAddress != "0xalice" {
		t.Errorf("creator = %q, want 0xalice", node.CreatorAddress)
	}
	if node.AssetURL != "s3://plotline/scene.mp4" {
		t.Errorf("asset_url = %q", node.AssetURL)
	}
}

func TestVerifyRefund_ReleasesSlot(t *testing.T) {
	fx := newFixture(t)
	created := createMovie(t, fx)
	locked := lockSlot(t, fx, created.Movie.ID, created.MirrorGenesisSceneID, "A", "0xalice")
	claim := claimSlot(t, fx, created.Movie.ID, created.Movie.GenesisSceneID, "A", "0xalice")

	rr := doRequest(t, fx.slots.VerifyPayment, http.MethodPost, "/slots/verify-payment", "0xalice",
		VerifyPaymentRequest{TxRef: claim.TxRef, SceneID: locked.ID, Amount: scenePrice})
	if rr.Code != http.StatusOK {
		t.Fatalf("verify payment status = %d: %s", rr.Code, rr.Body.String())
	}

	refundPath := fmt.Sprintf("/escrows/%d/refund", claim.Event.SceneID)
	rr = doRequest(t, fx.escrows.EscrowByID, http.MethodPost, refundPath, "0xalice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("refund status = %d: %s", rr.Code, rr.Body.String())
	}
	var refund receiptResponse
	decodeResponse(t, rr, &refund)

	rr = doRequest(t, fx.slots.VerifyRefund, http.MethodPost, "/slots/verify-refund", "0xalice",
		VerifyRefundRequest{TxRef: refund.TxRef, SceneID: locked.ID})
	if rr.Code != http.StatusOK {
		t.Fatalf("verify refund status = %d: %s", rr.Code, rr.Body.String())
	}
	var result VerifyRefundResponse
	decodeResponse(t, rr, &result)
	if result.RefundAmount != scenePrice/2 {
		t.Errorf("refund_amount = %d, want %d", result.RefundAmount, scenePrice/2)
	}

	// The mirror row is gone, so the slot accepts a new lock.
	rr = doRequest(t, fx.scenes.SceneByID, http.MethodGet, fmt.Sprintf("/scenes/%d", locked.ID), "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("deleted row status = %d, want 404", rr.Code)
	}
	relocked := lockSlot(t, fx, created.Movie.ID, created.MirrorGenesisSceneID, "A", "0xbob")
	if relocked.LockedBy != "0xbob" {
		t.Errorf("relock holder = %q, want 0xbob", relocked.LockedBy)
	}
}

func TestVerifyPayment_MissingFields(t *testing.T) {
	fx := newFixture(t)
	rr := doRequest(t, fx.slots.VerifyPayment, http.MethodPost, "/slots/verify-payment", "0xalice",
		VerifyPaymentRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestVerifyPayment_RequiresAmount(t *testing.T) {
	fx := newFixture(t)
	created := createMovie(t, fx)
	locked := lockSlot(t, fx, created.Movie.ID, created.MirrorGenesisSceneID, "A", "0xalice")
	claim := claimSlot(t, fx, created.Movie.ID, created.Movie.GenesisSceneID, "A", "0xalice")

	rr := doRequest(t, fx.slots.VerifyPayment, http.MethodPost, "/slots/verify-payment", "0xalice",
		VerifyPaymentRequest{TxRef: claim.TxRef, SceneID: locked.ID})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if code := errorCodeOf(t, rr); code != ErrCodeValidation {
		t.Errorf("code = %q, want validation_error", code)
	}
}
