package ledger

import (
	"context"

	"github.com/onnwee/plotline/internal/tree"
)

// The ledger's public read surface. The payment verifier depends on this
// and nothing else: it re-derives truth from receipts and events instead of
// trusting client-asserted values.

// Receipt returns the recorded outcome for a transaction reference.
func (l *Ledger) Receipt(txRef string) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.receipts[txRef]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	copied := *r
	if r.Event != nil {
		ev := *r.Event
		copied.Event = &ev
	}
	return &copied, nil
}

// Escrow returns the escrow for a ledger scene id.
func (l *Ledger) Escrow(sceneID uint64) (*Escrow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	esc, ok := l.escrows[sceneID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	copied := *esc
	return &copied, nil
}

// Balance returns the withdrawable earnings of an address.
func (l *Ledger) Balance(addr string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}

// Config returns a snapshot of the economic parameters.
func (l *Ledger) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Operator returns the platform operator address.
func (l *Ledger) Operator() string {
	return l.operator
}

// Movie returns a movie from the authoritative tree.
func (l *Ledger) Movie(ctx context.Context, id uint64) (*tree.Movie, error) {
	return l.scenes.GetMovie(ctx, id)
}

// Scene returns a scene node from the authoritative tree.
func (l *Ledger) Scene(ctx context.Context, id uint64) (*tree.SceneNode, error) {
	return l.scenes.Get(ctx, id)
}

// Transfers returns a copy of the outbound payment log.
func (l *Ledger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transfer, len(l.transfers))
	copy(out, l.transfers)
	return out
}

// ExpiredCandidates lists the scene ids of Active escrows whose custody
// window has elapsed. A janitorial sweep feeds these to CheckExpiredEscrow;
// the set may be stale by the time the sweep acts, which is safe because
// expiry rechecks under the lock.
func (l *Ledger) ExpiredCandidates() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	var ids []uint64
	for id, esc := range l.escrows {
		if esc.Status == EscrowActive && !now.Before(esc.CreatedAt.Add(l.cfg.EscrowDuration)) {
			ids = append(ids, id)
		}
	}
	return ids
}
