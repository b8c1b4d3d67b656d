// Package slotlock provides the off-ledger reservation of a scene slot
// prior to payment. It takes no explicit mutex: the scene store's insert
// uniqueness on (movie, parent, slot) is the only synchronization
// primitive, so concurrent acquisitions of one slot yield exactly one
// winner and every loser observes ErrSlotTaken.
package slotlock

import (
	"context"
	"errors"
	"time"

	"github.com/onnwee/plotline/internal/tree"
)

// ErrSlotTaken is returned when a slot is held by a live lock, a live
// escrow, or a completed scene. Callers must pick another slot or wait;
// blindly retrying the same slot cannot succeed.
var ErrSlotTaken = errors.New("slot already taken")

// ErrMovieNotActive is returned when the movie is missing or deactivated.
var ErrMovieNotActive = errors.New("movie is not active")

// Default reservation windows. The lock TTL is tuned to the time needed to
// submit a payment; the escrow TTL, owned by the ledger, is tuned to the
// much longer time needed to produce content.
const (
	DefaultLockDuration   = 5 * time.Minute
	DefaultEscrowDuration = 24 * time.Hour
)

// Manager reserves scene slots against a tree store.
type Manager struct {
	store          tree.Store
	cache          *tree.SlotCache
	lockDuration   time.Duration
	escrowDuration time.Duration
	now            func() time.Time
}

// NewManager creates a Manager. cache may be nil; it is only invalidated,
// never read, because reservations must race on committed rows.
func NewManager(store tree.Store, cache *tree.SlotCache, lockDuration, escrowDuration time.Duration) *Manager {
	if lockDuration <= 0 {
		lockDuration = DefaultLockDuration
	}
	if escrowDuration <= 0 {
		escrowDuration = DefaultEscrowDuration
	}
	return &Manager{
		store:          store,
		cache:          cache,
		lockDuration:   lockDuration,
		escrowDuration: escrowDuration,
		now:            time.Now,
	}
}

// AcquireLock reserves (movieID, parentID, slot) for claimant and returns
// the reserved scene node. The algorithm is insert-first: attempt to create
// the row and only on a uniqueness violation inspect the existing holder.
//
// An existing row blocks the claim while it is completed, freshly locked,
// or inside its escrow window. A stale row is rewritten in place for the
// new claimant, keeping the same scene id; losing that rewrite race is
// reported as ErrSlotTaken like any other conflict.
func (m *Manager) AcquireLock(ctx context.Context, movieID, parentID uint64, slot tree.Slot, claimant string) (*tree.SceneNode, error) {
	movie, err := m.store.GetMovie(ctx, movieID)
	if err != nil {
		if errors.Is(err, tree.ErrMovieNotFound) {
			return nil, ErrMovieNotActive
		}
		return nil, err
	}
	if !movie.Active {
		return nil, ErrMovieNotActive
	}

	now := m.now().UTC()
	node := &tree.SceneNode{
		MovieID:     movieID,
		ParentID:    &parentID,
		SlotRef:     &slot,
		Status:      tree.StatusLocked,
		LockedBy:    claimant,
		LockedUntil: now.Add(m.lockDuration),
		CreatedAt:   now,
	}

	err = m.store.Insert(ctx, node)
	if err == nil {
		m.cache.Invalidate(ctx, movieID, parentID, slot)
		return node, nil
	}
	if !errors.Is(err, tree.ErrSlotOccupied) {
		return nil, err
	}

	existing, err := m.store.GetBySlot(ctx, movieID, parentID, slot)
	if err != nil {
		if errors.Is(err, tree.ErrSceneNotFound) {
			// The holder vanished between insert and lookup (a refund
			// released it). Treat as taken; the caller's retry will win.
			return nil, ErrSlotTaken
		}
		return nil, err
	}

	if !m.stale(existing, now) {
		return nil, ErrSlotTaken
	}

	if err := m.store.Reclaim(ctx, existing.ID, existing.Status, claimant, now.Add(m.lockDuration)); err != nil {
		if errors.Is(err, tree.ErrReclaimConflict) || errors.Is(err, tree.ErrSceneNotFound) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	m.cache.Invalidate(ctx, movieID, parentID, slot)

	reclaimed, err := m.store.Get(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	return reclaimed, nil
}

// stale reports whether the row no longer protects its holder. Completed
// scenes are permanent. Locks expire at LockedUntil; escrowed and expired
// rows become stale once the escrow window has elapsed since creation.
func (m *Manager) stale(n *tree.SceneNode, now time.Time) bool {
	switch n.Status {
	case tree.StatusCompleted:
		return false
	case tree.StatusLocked:
		return now.After(n.LockedUntil)
	case tree.StatusEscrowed, tree.StatusAwaitingConfirmation:
		return now.After(n.CreatedAt.Add(m.escrowDuration))
	case tree.StatusExpired:
		return true
	}
	return false
}
