// Package tree provides the branching scene structure for Plotline movies:
// an arena of scene nodes addressed by integer id, with three extension
// slots per scene and an ancestor-walk primitive used by settlement.
package tree

import (
	"errors"
	"fmt"
	"time"
)

// Slot identifies one of the three extension points under a scene.
type Slot uint8

// The three slots of a scene.
const (
	SlotA Slot = iota
	SlotB
	SlotC
)

// ErrInvalidSlot is returned when a slot label is not A, B or C.
var ErrInvalidSlot = errors.New("slot must be one of A, B, C")

// String returns the slot label ("A", "B" or "C").
func (s Slot) String() string {
	switch s {
	case SlotA:
		return "A"
	case SlotB:
		return "B"
	case SlotC:
		return "C"
	}
	return fmt.Sprintf("Slot(%d)", uint8(s))
}

// ParseSlot converts a slot label into a Slot.
func ParseSlot(label string) (Slot, error) {
	switch label {
	case "A":
		return SlotA, nil
	case "B":
		return SlotB, nil
	case "C":
		return SlotC, nil
	}
	return 0, ErrInvalidSlot
}

// SceneStatus is the lifecycle state of a scene node. Every transition is
// matched exhaustively; a free-form string status is not representable.
type SceneStatus int

// Scene lifecycle states.
//
// Locked is the pre-payment reservation. Escrowed means payment has been
// verified and the generation window is open. AwaitingConfirmation means a
// generated asset has been attached and the buyer has not yet confirmed.
// Completed is terminal and immutable. Expired marks an escrow past its
// window, pending refund.
const (
	StatusLocked SceneStatus = iota
	StatusEscrowed
	StatusAwaitingConfirmation
	StatusCompleted
	StatusExpired
)

// String returns the lowercase state name used in responses and logs.
func (s SceneStatus) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusEscrowed:
		return "escrowed"
	case StatusAwaitingConfirmation:
		return "awaiting_confirmation"
	case StatusCompleted:
		return "completed"
	case StatusExpired:
		return "expired"
	}
	return fmt.Sprintf("SceneStatus(%d)", int(s))
}

// Terminal reports whether no further transition is allowed from s.
func (s SceneStatus) Terminal() bool {
	return s == StatusCompleted
}

// SceneNode is a node in a movie's branching narrative tree.
//
// ParentID and SlotRef are nil only for a genesis node. CreatorAddress is
// set exactly once, when the scene completes. LockedBy and LockedUntil
// describe the short-lived pre-payment reservation. LedgerSceneID is the
// id the settlement ledger assigned to this slot's escrow; it is recorded
// by payment verification and may differ from ID because stale rows are
// rewritten in place while ledger ids are never reused.
type SceneNode struct {
	ID             uint64       `json:"id"`
	MovieID        uint64       `json:"movie_id"`
	ParentID       *uint64      `json:"parent_id,omitempty"`
	SlotRef        *Slot        `json:"slot,omitempty"`
	Status         SceneStatus  `json:"status"`
	CreatorAddress string       `json:"creator_address,omitempty"`
	LockedBy       string       `json:"locked_by,omitempty"`
	LockedUntil    time.Time    `json:"locked_until,omitempty"`
	LedgerSceneID  *uint64      `json:"ledger_scene_id,omitempty"`
	AssetURL       string       `json:"asset_url,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Genesis reports whether the node is the root of its movie's tree.
func (n *SceneNode) Genesis() bool {
	return n.ParentID == nil
}

// Movie is the container for one narrative tree. Price is the cost of
// claiming a slot, in the currency's smallest unit.
type Movie struct {
	ID             uint64    `json:"id"`
	Title          string    `json:"title"`
	OwnerAddress   string    `json:"owner_address"`
	Price          int64     `json:"price"`
	Active         bool      `json:"active"`
	GenesisSceneID uint64    `json:"genesis_scene_id"`
	CreatedAt      time.Time `json:"created_at"`
}
