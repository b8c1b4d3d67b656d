package ledger

import (
	"time"

	"github.com/onnwee/plotline/internal/revenue"
)

// Configuration setters are restricted to the platform operator, validate
// bounds before applying, and emit a ConfigUpdated event consumable by
// observers. Changes affect only subsequent operations; settled escrows
// and issued refunds are never reinterpreted.

// SetEscrowDuration updates the on-ledger custody window.
func (l *Ledger) SetEscrowDuration(caller string, d time.Duration) (*Receipt, error) {
	return l.setConfig(caller, "escrow_duration", func() error {
		if d <= 0 {
			return ErrInvalidDuration
		}
		l.cfg.EscrowDuration = d
		return nil
	})
}

// SetRefundPercentage updates the buyer's refund share, in whole percent.
func (l *Ledger) SetRefundPercentage(caller string, pct int64) (*Receipt, error) {
	return l.setConfig(caller, "refund_percentage", func() error {
		if pct < 0 || pct > 100 {
			return ErrInvalidPercentage
		}
		l.cfg.RefundPercentage = pct
		return nil
	})
}

// SetMovieCreationDeposit updates the payment required to register a movie.
func (l *Ledger) SetMovieCreationDeposit(caller string, deposit int64) (*Receipt, error) {
	return l.setConfig(caller, "movie_creation_deposit", func() error {
		if deposit < 0 {
			return ErrInsufficientPayment
		}
		l.cfg.MovieCreationDeposit = deposit
		return nil
	})
}

// SetDefaultScenePrice updates the price applied to movies registered
// without an explicit one.
func (l *Ledger) SetDefaultScenePrice(caller string, price int64) (*Receipt, error) {
	return l.setConfig(caller, "default_scene_price", func() error {
		if price < 0 {
			return ErrInsufficientPayment
		}
		l.cfg.DefaultScenePrice = price
		return nil
	})
}

// SetRevenueShares updates the five-way split. The shares must sum to
// exactly 10000 basis points.
func (l *Ledger) SetRevenueShares(caller string, shares revenue.Shares) (*Receipt, error) {
	return l.setConfig(caller, "revenue_shares", func() error {
		if err := shares.Validate(); err != nil {
			return err
		}
		l.cfg.Shares = shares
		return nil
	})
}

func (l *Ledger) setConfig(caller, setting string, apply func() error) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txRef := newTxRef()

	if caller != l.operator {
		return l.fail("set_"+setting, txRef, ErrNotOperator)
	}
	if err := apply(); err != nil {
		return l.fail("set_"+setting, txRef, err)
	}
	return l.commit("set_"+setting, txRef, Event{
		Type:    EventConfigUpdated,
		Setting: setting,
	})
}
