package ledger

import (
	"time"

	"github.com/onnwee/plotline/internal/tree"
)

// EventType names a ledger notification.
type EventType string

// Notifications emitted by state-changing operations.
const (
	EventSlotClaimed    EventType = "SlotClaimed"
	EventSceneConfirmed EventType = "SceneConfirmed"
	EventRefundIssued   EventType = "RefundIssued"
	EventEscrowExpired  EventType = "EscrowExpired"
	EventMovieCreated   EventType = "MovieCreated"
	EventConfigUpdated  EventType = "ConfigUpdated"
)

// Event is one ledger notification. Fields beyond Type, TxRef and At are
// populated per event type; unset fields marshal as absent.
type Event struct {
	Type  EventType `json:"type" cbor:"type"`
	TxRef string    `json:"tx_ref" cbor:"tx_ref"`
	At    time.Time `json:"at" cbor:"at"`

	SceneID      uint64     `json:"scene_id,omitempty" cbor:"scene_id,omitempty"`
	MovieID      uint64     `json:"movie_id,omitempty" cbor:"movie_id,omitempty"`
	ParentID     uint64     `json:"parent_id,omitempty" cbor:"parent_id,omitempty"`
	Slot         *tree.Slot `json:"slot,omitempty" cbor:"slot,omitempty"`
	Buyer        string     `json:"buyer,omitempty" cbor:"buyer,omitempty"`
	Creator      string     `json:"creator,omitempty" cbor:"creator,omitempty"`
	ContentRef   string     `json:"content_ref,omitempty" cbor:"content_ref,omitempty"`
	Amount       int64      `json:"amount,omitempty" cbor:"amount,omitempty"`
	RefundAmount int64      `json:"refund_amount,omitempty" cbor:"refund_amount,omitempty"`
	Setting      string     `json:"setting,omitempty" cbor:"setting,omitempty"`
}

// Receipt is the recorded outcome of one submitted ledger transaction.
// Failed transactions get receipts too; the payment verifier re-derives
// truth from receipts rather than trusting client-asserted values.
type Receipt struct {
	TxRef     string    `json:"tx_ref"`
	OK        bool      `json:"ok"`
	ErrorCode string    `json:"error_code,omitempty"`
	Event     *Event    `json:"event,omitempty"`
	At        time.Time `json:"at"`
}

// ObserverFunc receives every committed ledger event. Each observer runs on
// its own goroutine so a slow observer cannot block settlement; observers
// needing ordering should consume the journal instead.
type ObserverFunc func(Event)
