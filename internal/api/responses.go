package api

import (
	"time"

	"github.com/onnwee/plotline/internal/ledger"
	"github.com/onnwee/plotline/internal/tree"
)

// sceneResponse is the wire shape of a mirror scene node. Statuses and slot
// labels are rendered as strings; internal enum values never leak.
type sceneResponse struct {
	ID             uint64     `json:"id"`
	MovieID        uint64     `json:"movie_id"`
	ParentID       *uint64    `json:"parent_id,omitempty"`
	Slot           string     `json:"slot,omitempty"`
	Status         string     `json:"status"`
	CreatorAddress string     `json:"creator_address,omitempty"`
	LockedBy       string     `json:"locked_by,omitempty"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	LedgerSceneID  *uint64    `json:"ledger_scene_id,omitempty"`
	AssetURL       string     `json:"asset_url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func newSceneResponse(n *tree.SceneNode) sceneResponse {
	resp := sceneResponse{
		ID:             n.ID,
		MovieID:        n.MovieID,
		ParentID:       n.ParentID,
		Status:         n.Status.String(),
		CreatorAddress: n.CreatorAddress,
		LockedBy:       n.LockedBy,
		LedgerSceneID:  n.LedgerSceneID,
		AssetURL:       n.AssetURL,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
	if n.SlotRef != nil {
		resp.Slot = n.SlotRef.String()
	}
	if !n.LockedUntil.IsZero() {
		until := n.LockedUntil
		resp.LockedUntil = &until
	}
	return resp
}

// escrowResponse is the wire shape of a ledger escrow.
type escrowResponse struct {
	SceneID   uint64    `json:"scene_id"`
	MovieID   uint64    `json:"movie_id"`
	ParentID  uint64    `json:"parent_id"`
	Buyer     string    `json:"buyer"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func newEscrowResponse(e *ledger.Escrow) escrowResponse {
	return escrowResponse{
		SceneID:   e.SceneID,
		MovieID:   e.MovieID,
		ParentID:  e.ParentID,
		Buyer:     e.Buyer,
		Amount:    e.Amount,
		Status:    e.Status.String(),
		CreatedAt: e.CreatedAt,
	}
}

// eventResponse is the wire shape of a ledger event, shared by receipts and
// the websocket stream.
type eventResponse struct {
	Type         string    `json:"type"`
	TxRef        string    `json:"tx_ref"`
	At           time.Time `json:"at"`
	SceneID      uint64    `json:"scene_id,omitempty"`
	MovieID      uint64    `json:"movie_id,omitempty"`
	ParentID     uint64    `json:"parent_id,omitempty"`
	Slot         string    `json:"slot,omitempty"`
	Buyer        string    `json:"buyer,omitempty"`
	Creator      string    `json:"creator,omitempty"`
	ContentRef   string    `json:"content_ref,omitempty"`
	Amount       int64     `json:"amount,omitempty"`
	RefundAmount int64     `json:"refund_amount,omitempty"`
	Setting      string    `json:"setting,omitempty"`
}

func newEventResponse(ev *ledger.Event) *eventResponse {
	if ev == nil {
		return nil
	}
	resp := &eventResponse{
		Type:         string(ev.Type),
		TxRef:        ev.TxRef,
		At:           ev.At,
		SceneID:      ev.SceneID,
		MovieID:      ev.MovieID,
		ParentID:     ev.ParentID,
		Buyer:        ev.Buyer,
		Creator:      ev.Creator,
		ContentRef:   ev.ContentRef,
		Amount:       ev.Amount,
		RefundAmount: ev.RefundAmount,
		Setting:      ev.Setting,
	}
	if ev.Slot != nil {
		resp.Slot = ev.Slot.String()
	}
	return resp
}

// receiptResponse is the wire shape of a transaction receipt.
type receiptResponse struct {
	TxRef     string         `json:"tx_ref"`
	OK        bool           `json:"ok"`
	ErrorCode string         `json:"error_code,omitempty"`
	Event     *eventResponse `json:"event,omitempty"`
	At        time.Time      `json:"at"`
}

func newReceiptResponse(rcpt *ledger.Receipt) receiptResponse {
	return receiptResponse{
		TxRef:     rcpt.TxRef,
		OK:        rcpt.OK,
		ErrorCode: rcpt.ErrorCode,
		Event:     newEventResponse(rcpt.Event),
		At:        rcpt.At,
	}
}
