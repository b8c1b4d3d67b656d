// Package verifier bridges the off-ledger scene mirror to ledger truth.
// For each of claim, confirmation and refund it re-fetches the transaction
// outcome and event from the ledger's read surface, matches every expected
// field, and only then applies the mirror transition. A failed or
// unmatched verification leaves the mirror untouched, so every call is
// safe to retry indefinitely.
package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/onnwee/plotline/internal/ledger"
	"github.com/onnwee/plotline/internal/tree"
)

// Verification errors.
var (
	// ErrTransactionFailed is returned when the referenced ledger
	// transaction reverted.
	ErrTransactionFailed = errors.New("ledger transaction failed")

	// ErrEventNotFound is returned when no receipt exists for the
	// reference or the receipt carries no event of the expected type.
	ErrEventNotFound = errors.New("expected ledger event not found")

	// ErrSlotReassigned is returned when the mirror row no longer belongs
	// to the verifying claimant: the off-ledger lock expired and was
	// reused before this payment landed. The new claimant's state is
	// never overwritten; the stray escrow can be refunded on the ledger.
	ErrSlotReassigned = errors.New("slot was reassigned to another claimant")
)

// FieldMismatchError reports a single expected field that the ledger event
// contradicts. Field is one of "creator", "parent", "slot", "amount".
type FieldMismatchError struct {
	Field string
}

func (e *FieldMismatchError) Error() string {
	return fmt.Sprintf("ledger event does not match expected %s", e.Field)
}

// LedgerReader is the slice of the ledger's read surface the verifier
// consumes.
type LedgerReader interface {
	Receipt(txRef string) (*ledger.Receipt, error)
}

// Verifier applies verify-then-write mirror transitions.
type Verifier struct {
	ledger LedgerReader
	store  tree.Store
	cache  *tree.SlotCache
}

// New creates a Verifier. cache may be nil.
func New(l LedgerReader, store tree.Store, cache *tree.SlotCache) *Verifier {
	return &Verifier{ledger: l, store: store, cache: cache}
}

// ExpectedClaim is the caller-independent description of a claim to verify.
// SceneID is the mirror row id returned by lock acquisition; the ledger's
// own scene id is learned from the event, never asserted by the client.
type ExpectedClaim struct {
	SceneID uint64
	Buyer   string
	Amount  int64
}

// VerifyClaim confirms that txRef settled a slot claim matching the mirror
// row, then transitions the row from Locked to Escrowed and records the
// ledger's scene id on it.
func (v *Verifier) VerifyClaim(ctx context.Context, txRef string, exp ExpectedClaim) (*tree.SceneNode, error) {
	ev, err := v.fetchEvent(txRef, ledger.EventSlotClaimed)
	if err != nil {
		return nil, err
	}

	node, err := v.store.Get(ctx, exp.SceneID)
	if err != nil {
		if errors.Is(err, tree.ErrSceneNotFound) {
			return nil, ErrSlotReassigned
		}
		return nil, err
	}

	// Idempotent retry: the row was already moved by an earlier successful
	// verification of this same transaction.
	if node.Status == tree.StatusEscrowed && node.LedgerSceneID != nil && *node.LedgerSceneID == ev.SceneID {
		return node, nil
	}

	if ev.Buyer != exp.Buyer {
		return nil, &FieldMismatchError{Field: "creator"}
	}
	if ev.Amount != exp.Amount {
		return nil, &FieldMismatchError{Field: "amount"}
	}
	if node.ParentID == nil || ev.MovieID != node.MovieID {
		return nil, &FieldMismatchError{Field: "parent"}
	}
	// The mirror's parent id is an off-ledger row id; claims are matched on
	// the slot coordinates the lock reserved.
	if ev.Slot == nil || node.SlotRef == nil || *ev.Slot != *node.SlotRef {
		return nil, &FieldMismatchError{Field: "slot"}
	}
	if node.Status != tree.StatusLocked || node.LockedBy != exp.Buyer {
		return nil, ErrSlotReassigned
	}

	// The row can be reclaimed by a new claimant between the read above and
	// this write; the store's compare-and-swap turns that lost race into a
	// reassignment instead of overwriting the new claimant's lock.
	ledgerID := ev.SceneID
	node.Status = tree.StatusEscrowed
	node.LedgerSceneID = &ledgerID
	if err := v.store.UpdateIf(ctx, node, tree.StatusLocked, exp.Buyer); err != nil {
		if errors.Is(err, tree.ErrReclaimConflict) || errors.Is(err, tree.ErrSceneNotFound) {
			return nil, ErrSlotReassigned
		}
		return nil, err
	}
	v.cache.InvalidateNode(ctx, node)
	return node, nil
}

// ExpectedConfirmation describes a confirmation to verify.
type ExpectedConfirmation struct {
	SceneID uint64 // mirror row id
	Creator string
}

// VerifyConfirmation confirms that txRef finalized the scene on the
// ledger, then completes the mirror row with the creator address.
func (v *Verifier) VerifyConfirmation(ctx context.Context, txRef string, exp ExpectedConfirmation) (*tree.SceneNode, error) {
	ev, err := v.fetchEvent(txRef, ledger.EventSceneConfirmed)
	if err != nil {
		return nil, err
	}

	node, err := v.store.Get(ctx, exp.SceneID)
	if err != nil {
		if errors.Is(err, tree.ErrSceneNotFound) {
			return nil, ErrSlotReassigned
		}
		return nil, err
	}

	if node.Status == tree.StatusCompleted && node.CreatorAddress == exp.Creator {
		return node, nil
	}

	if ev.Creator != exp.Creator {
		return nil, &FieldMismatchError{Field: "creator"}
	}
	if node.LedgerSceneID == nil || *node.LedgerSceneID != ev.SceneID {
		return nil, ErrSlotReassigned
	}
	if node.Status != tree.StatusEscrowed && node.Status != tree.StatusAwaitingConfirmation {
		return nil, ErrSlotReassigned
	}

	prevStatus := node.Status
	node.Status = tree.StatusCompleted
	node.CreatorAddress = exp.Creator
	if ev.ContentRef != "" {
		node.AssetURL = ev.ContentRef
	}
	if err := v.store.UpdateIf(ctx, node, prevStatus, node.LockedBy); err != nil {
		if errors.Is(err, tree.ErrReclaimConflict) || errors.Is(err, tree.ErrSceneNotFound) {
			return nil, ErrSlotReassigned
		}
		return nil, err
	}
	v.cache.InvalidateNode(ctx, node)
	return node, nil
}

// ExpectedRefund describes a refund to verify.
type ExpectedRefund struct {
	SceneID uint64 // mirror row id
	Buyer   string
}

// RefundResult reports a verified refund. OrphanedAssetURL carries the
// already-generated asset's location when a refund lands after generation;
// the asset's disposition is a product decision and nothing is deleted
// here.
type RefundResult struct {
	RefundAmount     int64
	OrphanedAssetURL string
}

// VerifyRefund confirms that txRef refunded the escrow, then deletes the
// mirror row so the slot's uniqueness key no longer blocks new claims.
func (v *Verifier) VerifyRefund(ctx context.Context, txRef string, exp ExpectedRefund) (*RefundResult, error) {
	ev, err := v.fetchEvent(txRef, ledger.EventRefundIssued)
	if err != nil {
		return nil, err
	}

	if ev.Buyer != exp.Buyer {
		return nil, &FieldMismatchError{Field: "creator"}
	}

	node, err := v.store.Get(ctx, exp.SceneID)
	if err != nil {
		if errors.Is(err, tree.ErrSceneNotFound) {
			// Row already removed by an earlier verification of this
			// refund; report success with nothing left to orphan.
			return &RefundResult{RefundAmount: ev.RefundAmount}, nil
		}
		return nil, err
	}

	if node.LedgerSceneID == nil || *node.LedgerSceneID != ev.SceneID {
		return nil, ErrSlotReassigned
	}
	if node.LockedBy != "" && node.LockedBy != exp.Buyer {
		return nil, ErrSlotReassigned
	}

	result := &RefundResult{
		RefundAmount:     ev.RefundAmount,
		OrphanedAssetURL: node.AssetURL,
	}
	if err := v.store.Delete(ctx, node.ID); err != nil {
		return nil, err
	}
	v.cache.InvalidateNode(ctx, node)
	return result, nil
}

// fetchEvent resolves a receipt and checks its outcome and event type.
func (v *Verifier) fetchEvent(txRef string, want ledger.EventType) (*ledger.Event, error) {
	receipt, err := v.ledger.Receipt(txRef)
	if err != nil {
		return nil, ErrEventNotFound
	}
	if !receipt.OK {
		return nil, fmt.Errorf("%w: %s", ErrTransactionFailed, receipt.ErrorCode)
	}
	if receipt.Event == nil || receipt.Event.Type != want {
		return nil, ErrEventNotFound
	}
	return receipt.Event, nil
}
