// Package ledger implements the authoritative escrow state machine for
// Plotline slot claims: claim, confirm, refund and expiry transitions, fund
// custody, pull-payment earnings balances, and operator configuration. All
// state-changing calls are serialized by the ledger's transaction ordering
// and are atomic: a call either fully applies or has no effect.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/plotline/internal/revenue"
)

// EscrowStatus is the lifecycle state of an escrow. Valid transitions are
// Active to Confirmed, Active to Refunded, and Active to Expired to
// Refunded. Confirmed and Refunded are terminal.
type EscrowStatus int

// Escrow lifecycle states.
const (
	EscrowActive EscrowStatus = iota
	EscrowConfirmed
	EscrowRefunded
	EscrowExpiredState
)

// String returns the lowercase state name.
func (s EscrowStatus) String() string {
	switch s {
	case EscrowActive:
		return "active"
	case EscrowConfirmed:
		return "confirmed"
	case EscrowRefunded:
		return "refunded"
	case EscrowExpiredState:
		return "expired"
	}
	return fmt.Sprintf("EscrowStatus(%d)", int(s))
}

// Terminal reports whether no transition out of s is allowed.
func (s EscrowStatus) Terminal() bool {
	return s == EscrowConfirmed || s == EscrowRefunded
}

// Escrow custodies one slot claim's payment across the generation window.
// Amounts are in the currency's smallest indivisible unit.
type Escrow struct {
	SceneID   uint64       `json:"scene_id"`
	MovieID   uint64       `json:"movie_id"`
	ParentID  uint64       `json:"parent_id"`
	Buyer     string       `json:"buyer"`
	Amount    int64        `json:"amount"`
	Status    EscrowStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// Config holds the operator-tunable economic parameters.
type Config struct {
	// EscrowDuration is the on-ledger custody window for a claim.
	EscrowDuration time.Duration `json:"escrow_duration"`

	// RefundPercentage of the escrowed amount returned to the buyer on
	// refund, in whole percent (0 to 100). The remainder is credited to
	// the movie owner.
	RefundPercentage int64 `json:"refund_percentage"`

	// MovieCreationDeposit is the payment required to register a movie.
	MovieCreationDeposit int64 `json:"movie_creation_deposit"`

	// DefaultScenePrice applies to movies registered without an explicit
	// per-movie price.
	DefaultScenePrice int64 `json:"default_scene_price"`

	// Shares is the five-way revenue split applied on confirmation.
	Shares revenue.Shares `json:"shares"`
}

// Transfer records an immediate outbound payment: a refund payout or a
// balance withdrawal. Earnings credits never appear here; they accumulate
// in balances until withdrawn (pull-payment pattern).
type Transfer struct {
	TxRef  string    `json:"tx_ref"`
	To     string    `json:"to"`
	Amount int64     `json:"amount"`
	Kind   string    `json:"kind"` // "refund" or "withdrawal"
	At     time.Time `json:"at"`
}

// Ledger operation errors. Any of these reverts the entire call with no
// partial state change.
var (
	// ErrSlotAlreadyTaken is returned when the slot is held by a completed
	// scene or a live escrow.
	ErrSlotAlreadyTaken = errors.New("slot already taken")

	// ErrMovieNotActive is returned when the movie is missing or inactive.
	ErrMovieNotActive = errors.New("movie is not active")

	// ErrInsufficientPayment is returned when the payment does not equal
	// the required price or deposit.
	ErrInsufficientPayment = errors.New("payment does not match required amount")

	// ErrEscrowNotActive is returned for a transition that requires an
	// Active (or, for refunds, Expired) escrow.
	ErrEscrowNotActive = errors.New("escrow is not active")

	// ErrNotEscrowBuyer is returned when a caller other than the escrow's
	// buyer attempts a buyer-only transition.
	ErrNotEscrowBuyer = errors.New("caller is not the escrow buyer")

	// ErrInvalidPercentage is returned when a refund percentage is outside
	// [0, 100].
	ErrInvalidPercentage = errors.New("refund percentage must be between 0 and 100")

	// ErrNoEarnings is returned by a withdrawal when the caller's balance
	// is zero.
	ErrNoEarnings = errors.New("no earnings to withdraw")

	// ErrNotOperator is returned when a non-operator calls a configuration
	// setter.
	ErrNotOperator = errors.New("caller is not the platform operator")

	// ErrEscrowNotFound is returned when no escrow exists for a scene id.
	ErrEscrowNotFound = errors.New("escrow not found")

	// ErrReceiptNotFound is returned when no transaction receipt exists
	// for a reference.
	ErrReceiptNotFound = errors.New("transaction receipt not found")

	// ErrEscrowNotExpired is returned by an expiry check on an Active
	// escrow still inside its window.
	ErrEscrowNotExpired = errors.New("escrow window has not elapsed")

	// ErrInvalidDuration is returned for non-positive duration settings.
	ErrInvalidDuration = errors.New("duration must be positive")
)

// errorCode maps a ledger error to the stable code recorded on receipts
// and surfaced over HTTP.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrSlotAlreadyTaken):
		return "slot_already_taken"
	case errors.Is(err, ErrMovieNotActive):
		return "movie_not_active"
	case errors.Is(err, ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, ErrEscrowNotActive):
		return "escrow_not_active"
	case errors.Is(err, ErrNotEscrowBuyer):
		return "not_escrow_buyer"
	case errors.Is(err, ErrInvalidPercentage):
		return "invalid_percentage"
	case errors.Is(err, revenue.ErrInvalidShares):
		return "invalid_revenue_shares"
	case errors.Is(err, ErrNoEarnings):
		return "no_earnings"
	case errors.Is(err, ErrNotOperator):
		return "not_operator"
	case errors.Is(err, ErrEscrowNotFound):
		return "escrow_not_found"
	case errors.Is(err, ErrEscrowNotExpired):
		return "escrow_not_expired"
	case errors.Is(err, ErrInvalidDuration):
		return "invalid_duration"
	default:
		return "ledger_error"
	}
}
