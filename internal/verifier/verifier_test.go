package verifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/plotline/internal/ledger"
	"github.com/onnwee/plotline/internal/tree"
)

const claimAmount = int64(7_000_000)

// fakeLedger serves canned receipts keyed by transaction reference.
type fakeLedger struct {
	receipts map[string]*ledger.Receipt
}

func (f *fakeLedger) Receipt(txRef string) (*ledger.Receipt, error) {
	r, ok := f.receipts[txRef]
	if !ok {
		return nil, ledger.ErrReceiptNotFound
	}
	return r, nil
}

func (f *fakeLedger) put(txRef string, ok bool, errorCode string, ev *ledger.Event) {
	if ev != nil {
		ev.TxRef = txRef
	}
	f.receipts[txRef] = &ledger.Receipt{TxRef: txRef, OK: ok, ErrorCode: errorCode, Event: ev, At: time.Now().UTC()}
}

// fixture builds a mirror store holding one locked row for alice under the
// genesis scene, plus a verifier backed by the fake ledger.
type fixture struct {
	v      *Verifier
	ledger *fakeLedger
	store  tree.Store
	movie  *tree.Movie
	row    *tree.SceneNode
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := tree.NewInMemoryStore()
	movie := &tree.Movie{Title: "test", OwnerAddress: "owner", Price: claimAmount, Active: true}
	if err := store.CreateMovie(context.Background(), movie); err != nil {
		t.Fatalf("CreateMovie failed: %v", err)
	}

	parentID := movie.GenesisSceneID
	slot := tree.SlotA
	row := &tree.SceneNode{
		MovieID:     movie.ID,
		ParentID:    &parentID,
		SlotRef:     &slot,
		Status:      tree.StatusLocked,
		LockedBy:    "alice",
		LockedUntil: time.Now().Add(5 * time.Minute),
	}
	if err := store.Insert(context.Background(), row); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	fl := &fakeLedger{receipts: make(map[string]*ledger.Receipt)}
	return &fixture{v: New(fl, store, nil), ledger: fl, store: store, movie: movie, row: row}
}

// claimEvent is the ledger's view of alice's claim. The ledger allocates
// its own scene id, distinct from the mirror row id.
func (f *fixture) claimEvent() *ledger.Event {
	slot := *f.row.SlotRef
	return &ledger.Event{
		Type:     ledger.EventSlotClaimed,
		SceneID:  100,
		MovieID:  f.movie.ID,
		ParentID: *f.row.ParentID,
		Slot:     &slot,
		Buyer:    "alice",
		Amount:   claimAmount,
	}
}

func (f *fixture) verifiedClaim(t *testing.T) *tree.SceneNode {
	t.Helper()
	f.ledger.put("tx-claim", true, "", f.claimEvent())
	node, err := f.v.VerifyClaim(context.Background(), "tx-claim", ExpectedClaim{SceneID: f.row.ID, Buyer: "alice", Amount: claimAmount})
	if err != nil {
		t.Fatalf("VerifyClaim failed: %v", err)
	}
	return node
}

func TestVerifyClaim_TransitionsRow(t *testing.T) {
	f := newFixture(t)

	node := f.verifiedClaim(t)
	if node.Status != tree.StatusEscrowed {
		t.Errorf("status = %s, want escrowed", node.Status)
	}
	if node.LedgerSceneID == nil || *node.LedgerSceneID != 100 {
		t.Errorf("ledger scene id = %v, want 100", node.LedgerSceneID)
	}

	stored, err := f.store.Get(context.Background(), f.row.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != tree.StatusEscrowed {
		t.Errorf("stored status = %s, want escrowed", stored.Status)
	}
}

func TestVerifyClaim_RetryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.verifiedClaim(t)

	node, err := f.v.VerifyClaim(context.Background(), "tx-claim", ExpectedClaim{SceneID: f.row.ID, Buyer: "alice", Amount: claimAmount})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if node.Status != tree.StatusEscrowed {
		t.Errorf("status = %s, want escrowed", node.Status)
	}
}

func TestVerifyClaim_FailedTransaction(t *testing.T) {
	f := newFixture(t)
	f.ledger.put("tx-claim", false, "slot_already_taken", nil)

	_, err := f.v.VerifyClaim(context.Background(), "tx-claim", ExpectedClaim{SceneID: f.row.ID, Buyer: "alice"})
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("error = %v, want ErrTransactionFailed", err)
	}
}

func TestVerifyClaim_EventNotFound(t *testing.T) {
	f := newFixture(t)

	if _, err := f.v.VerifyClaim(context.Background(), "tx-unknown", ExpectedClaim{SceneID: f.row.ID, Buyer: "alice"}); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("missing receipt error = %v, want ErrEventNotFound", err)
	}

	// A successful receipt of the wrong kind is not a claim.
	f.ledger.put("tx-other", true, "", &ledger.Event{Type: ledger.EventRefundIssued, SceneID: 100, Buyer: "alice"})
	if _, err := f.v.VerifyClaim(context.Background(), "tx-other", ExpectedClaim{SceneID: f.row.ID, Buyer: "alice"}); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("wrong event type error = %v, want ErrEventNotFound", err)
	}
}

func TestVerifyClaim_FieldMismatches(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name      string
		mutate    func(ev *ledger.Event)
		expected  ExpectedClaim
		wantField string
	}{
		{
			name:      "creator",
			mutate:    func(ev *ledger.Event) { ev.Buyer = "mallory" },
			expected:  ExpectedClaim{Buyer: "alice", Amount: claimAmount},
			wantField: "creator",
		},
		{
			name:      "amount",
			mutate:    func(ev *ledger.Event) { ev.Amount = claimAmount - 1 },
			expected:  ExpectedClaim{Buyer: "alice", Amount: claimAmount},
			wantField: "amount",
		},
		{
			// An omitted expected amount never matches a settled payment.
			name:      "amount omitted",
			mutate:    func(*ledger.Event) {},
			expected:  ExpectedClaim{Buyer: "alice"},
			wantField: "amount",
		},
		{
			name:      "parent",
			mutate:    func(ev *ledger.Event) { ev.MovieID++ },
			expected:  ExpectedClaim{Buyer: "alice", Amount: claimAmount},
			wantField: "parent",
		},
		{
			name: "slot",
			mutate: func(ev *ledger.Event) {
				other := tree.SlotB
				ev.Slot = &other
			},
			expected:  ExpectedClaim{Buyer: "alice", Amount: claimAmount},
			wantField: "slot",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := f.claimEvent()
			tt.mutate(ev)
			f.ledger.put("tx-"+tt.name, true, "", ev)

			exp := tt.expected
			exp.SceneID = f.row.ID
			_, err := f.v.VerifyClaim(context.Background(), "tx-"+tt.name, exp)

			var mismatch *FieldMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("error = %v, want FieldMismatchError", err)
			}
			if mismatch.Field != tt.wantField {
				t.Errorf("field = %q, want %q", mismatch.Field, tt.wantField)
			}

			// The mirror row is untouched after a mismatch.
			row, _ := f.store.Get(context.Background(), f.row.ID)
			if row.Status != tree.StatusLocked {
				t.Errorf("row status = %s, want locked", row.Status)
			}
		})
	}
}

func TestVerifyClaim_SlotReassigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The lock expired and bob took the slot over before alice's payment
	// verified.
	if err := f.store.Reclaim(ctx, f.row.ID, tree.StatusLocked, "bob", time.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("Reclaim failed: %v", err)
	}

	f.ledger.put("tx-claim", true, "", f.claimEvent())
	_, err := f.v.VerifyClaim(ctx, "tx-claim", ExpectedClaim{SceneID: f.row.ID, Buyer: "alice", Amount: claimAmount})
	if !errors.Is(err, ErrSlotReassigned) {
		t.Fatalf("error = %v, want ErrSlotReassigned", err)
	}

	// Bob's lock is never overwritten.
	row, _ := f.store.Get(ctx, f.row.ID)
	if row.LockedBy != "bob" || row.Status != tree.StatusLocked {
		t.Errorf("row = %s/%q, want locked/bob", row.Status, row.LockedBy)
	}
}

// reclaimDuringGet wraps a store so a takeover by another claimant lands
// right after the verifier's read, before its write.
type reclaimDuringGet struct {
	tree.Store
	rowID    uint64
	claimant string
	once     sync.Once
}

func (s *reclaimDuringGet) Get(ctx context.Context, id uint64) (*tree.SceneNode, error) {
	n, err := s.Store.Get(ctx, id)
	if err == nil && id == s.rowID {
		s.once.Do(func() {
			_ = s.Store.Reclaim(ctx, s.rowID, tree.StatusLocked, s.claimant, time.Now().Add(5*time.Minute))
		})
	}
	return n, err
}

func TestVerifyClaim_ReclaimBetweenReadAndWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Bob's takeover commits after alice's verification reads the row but
	// before it writes. The row still looked locked by alice at read time,
	// so only the write-side compare-and-swap can catch the race.
	racy := &reclaimDuringGet{Store: f.store, rowID: f.row.ID, claimant: "bob"}
	v := New(f.ledger, racy, nil)

	f.ledger.put("tx-claim", true, "", f.claimEvent())
	_, err := v.VerifyClaim(ctx, "tx-claim", ExpectedClaim{SceneID: f.row.ID, Buyer: "alice", Amount: claimAmount})
	if !errors.Is(err, ErrSlotReassigned) {
		t.Fatalf("error = %v, want ErrSlotReassigned", err)
	}

	// Bob's reclaimed lock survives untouched.
	row, err := f.store.Get(ctx, f.row.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if row.Status != tree.StatusLocked || row.LockedBy != "bob" {
		t.Errorf("row = %s/%q, want locked/bob", row.Status, row.LockedBy)
	}
}

func TestVerifyConfirmation_CompletesRow(t *testing.T) {
	f := newFixture(t)
	f.verifiedClaim(t)

	f.ledger.put("tx-confirm", true, "", &ledger.Event{
		Type:       ledger.EventSceneConfirmed,
		SceneID:    100,
		MovieID:    f.movie.ID,
		Creator:    "alice",
		ContentRef: "ipfs://asset",
		Amount:     claimAmount,
	})

	node, err := f.v.VerifyConfirmation(context.Background(), "tx-confirm", ExpectedConfirmation{SceneID: f.row.ID, Creator: "alice"})
	if err != nil {
		t.Fatalf("VerifyConfirmation failed: %v", err)
	}
	if node.Status != tree.StatusCompleted {
		t.Errorf("status = %s, want completed", node.Status)
	}
	if node.CreatorAddress != "alice" {
		t.Errorf("creator = %q, want alice", node.CreatorAddress)
	}
	if node.AssetURL != "ipfs://asset" {
		t.Errorf("asset url = %q, want ipfs://asset", node.AssetURL)
	}

	// Retry succeeds without rewriting anything.
	if _, err := f.v.VerifyConfirmation(context.Background(), "tx-confirm", ExpectedConfirmation{SceneID: f.row.ID, Creator: "alice"}); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestVerifyConfirmation_CreatorMismatch(t *testing.T) {
	f := newFixture(t)
	f.verifiedClaim(t)

	f.ledger.put("tx-confirm", true, "", &ledger.Event{
		Type:    ledger.EventSceneConfirmed,
		SceneID: 100,
		Creator: "alice",
	})
	_, err := f.v.VerifyConfirmation(context.Background(), "tx-confirm", ExpectedConfirmation{SceneID: f.row.ID, Creator: "mallory"})

	var mismatch *FieldMismatchError
	if !errors.As(err, &mismatch) || mismatch.Field != "creator" {
		t.Fatalf("error = %v, want creator mismatch", err)
	}
}

func TestVerifyConfirmation_LedgerIDMismatch(t *testing.T) {
	f := newFixture(t)
	f.verifiedClaim(t)

	// The event settles a different ledger scene than the one this mirror
	// row escrowed: the row must not complete.
	f.ledger.put("tx-confirm", true, "", &ledger.Event{
		Type:    ledger.EventSceneConfirmed,
		SceneID: 101,
		Creator: "alice",
	})
	_, err := f.v.VerifyConfirmation(context.Background(), "tx-confirm", ExpectedConfirmation{SceneID: f.row.ID, Creator: "alice"})
	if !errors.Is(err, ErrSlotReassigned) {
		t.Fatalf("error = %v, want ErrSlotReassigned", err)
	}
}

func TestVerifyRefund_DeletesRowAndReportsOrphan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	node := f.verifiedClaim(t)
	node.AssetURL = "s3://bucket/scene.mp4"
	if err := f.store.Update(ctx, node); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	f.ledger.put("tx-refund", true, "", &ledger.Event{
		Type:         ledger.EventRefundIssued,
		SceneID:      100,
		Buyer:        "alice",
		Amount:       claimAmount,
		RefundAmount: claimAmount / 2,
	})

	result, err := f.v.VerifyRefund(ctx, "tx-refund", ExpectedRefund{SceneID: f.row.ID, Buyer: "alice"})
	if err != nil {
		t.Fatalf("VerifyRefund failed: %v", err)
	}
	if result.RefundAmount != claimAmount/2 {
		t.Errorf("refund amount = %d, want %d", result.RefundAmount, claimAmount/2)
	}
	if result.OrphanedAssetURL != "s3://bucket/scene.mp4" {
		t.Errorf("orphaned asset = %q, want the generated asset url", result.OrphanedAssetURL)
	}

	if _, err := f.store.Get(ctx, f.row.ID); !errors.Is(err, tree.ErrSceneNotFound) {
		t.Errorf("row lookup error = %v, want ErrSceneNotFound", err)
	}

	// Retry after deletion still reports success.
	again, err := f.v.VerifyRefund(ctx, "tx-refund", ExpectedRefund{SceneID: f.row.ID, Buyer: "alice"})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if again.RefundAmount != claimAmount/2 || again.OrphanedAssetURL != "" {
		t.Errorf("retry result = %+v, want refund with no orphan", again)
	}
}

func TestVerifyRefund_BuyerMismatch(t *testing.T) {
	f := newFixture(t)
	f.verifiedClaim(t)

	f.ledger.put("tx-refund", true, "", &ledger.Event{
		Type:         ledger.EventRefundIssued,
		SceneID:      100,
		Buyer:        "alice",
		RefundAmount: claimAmount / 2,
	})
	_, err := f.v.VerifyRefund(context.Background(), "tx-refund", ExpectedRefund{SceneID: f.row.ID, Buyer: "mallory"})

	var mismatch *FieldMismatchError
	if !errors.As(err, &mismatch) || mismatch.Field != "creator" {
		t.Fatalf("error = %v, want creator mismatch", err)
	}
}
