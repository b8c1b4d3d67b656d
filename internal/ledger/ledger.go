package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/plotline/internal/revenue"
	"github.com/onnwee/plotline/internal/tree"
)

// ancestorDepth is how far settlement walks up the tree: parent,
// grandparent, great-grandparent.
const ancestorDepth = 3

// Ledger is the authoritative economic state machine. It owns its own
// scene tree; the off-ledger mirror kept by the HTTP layer is reconciled
// against it through receipts, never the other way around.
//
// A single mutex serializes all state-changing calls, standing in for the
// global transaction ordering of the original settlement layer: concurrent
// claims for one slot are resolved by whichever acquires the lock first.
type Ledger struct {
	mu        sync.Mutex
	operator  string
	platform  string
	cfg       Config
	scenes    tree.Store
	escrows   map[uint64]*Escrow
	balances  map[string]int64
	transfers []Transfer
	receipts  map[string]*Receipt
	journal   *Journal
	metrics   *Metrics
	observers []ObserverFunc
	now       func() time.Time
}

// New creates a Ledger with its own in-memory scene tree. journal and
// metrics may be nil.
func New(operator, platform string, cfg Config, journal *Journal, metrics *Metrics) *Ledger {
	return &Ledger{
		operator: operator,
		platform: platform,
		cfg:      cfg,
		scenes:   tree.NewInMemoryStore(),
		escrows:  make(map[uint64]*Escrow),
		balances: make(map[string]int64),
		receipts: make(map[string]*Receipt),
		journal:  journal,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Observe registers an observer for committed events.
func (l *Ledger) Observe(fn ObserverFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// CreateMovie registers a movie and mints its genesis scene. The payment
// must equal the configured creation deposit, which is credited to the
// platform treasury. A zero price adopts the configured default.
func (l *Ledger) CreateMovie(ctx context.Context, caller, title string, price, payment int64) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txRef := newTxRef()

	if payment != l.cfg.MovieCreationDeposit {
		return l.fail("create_movie", txRef, ErrInsufficientPayment)
	}
	if price == 0 {
		price = l.cfg.DefaultScenePrice
	}

	movie := &tree.Movie{
		Title:        title,
		OwnerAddress: caller,
		Price:        price,
		Active:       true,
	}
	if err := l.scenes.CreateMovie(ctx, movie); err != nil {
		return l.fail("create_movie", txRef, err)
	}
	l.balances[l.platform] += payment

	return l.commit("create_movie", txRef, Event{
		Type:    EventMovieCreated,
		MovieID: movie.ID,
		SceneID: movie.GenesisSceneID,
		Creator: caller,
		Amount:  payment,
	})
}

// SetMovieActive flips a movie's active flag. Only the movie owner or the
// platform operator may call it.
func (l *Ledger) SetMovieActive(ctx context.Context, caller string, movieID uint64, active bool) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txRef := newTxRef()

	movie, err := l.scenes.GetMovie(ctx, movieID)
	if err != nil {
		return l.fail("set_movie_active", txRef, ErrMovieNotActive)
	}
	if caller != movie.OwnerAddress && caller != l.operator {
		return l.fail("set_movie_active", txRef, ErrNotOperator)
	}
	if err := l.scenes.SetMovieActive(ctx, movieID, active); err != nil {
		return l.fail("set_movie_active", txRef, err)
	}
	return l.commit("set_movie_active", txRef, Event{
		Type:    EventConfigUpdated,
		MovieID: movieID,
		Setting: "movie_active",
	})
}

// ClaimSlot escrows payment for (movieID, parentID, slot) and allocates a
// fresh scene id. A stale prior escrow for the slot is first transitioned
// to Expired, which alone moves no funds; its id is never reused.
func (l *Ledger) ClaimSlot(ctx context.Context, caller string, movieID, parentID uint64, slot tree.Slot, payment int64) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txRef := newTxRef()

	movie, err := l.scenes.GetMovie(ctx, movieID)
	if err != nil || !movie.Active {
		return l.fail("claim_slot", txRef, ErrMovieNotActive)
	}
	if payment != movie.Price {
		return l.fail("claim_slot", txRef, ErrInsufficientPayment)
	}
	if _, err := l.scenes.Get(ctx, parentID); err != nil {
		return l.fail("claim_slot", txRef, err)
	}

	now := l.now().UTC()
	var expired *Event

	existing, err := l.scenes.GetBySlot(ctx, movieID, parentID, slot)
	if err == nil {
		if existing.Status == tree.StatusCompleted {
			return l.fail("claim_slot", txRef, ErrSlotAlreadyTaken)
		}
		held := l.escrows[existing.ID]
		if held == nil || held.Status != EscrowActive {
			return l.fail("claim_slot", txRef, ErrSlotAlreadyTaken)
		}
		if now.Before(held.CreatedAt.Add(l.cfg.EscrowDuration)) {
			return l.fail("claim_slot", txRef, ErrSlotAlreadyTaken)
		}
		// Stale: expire in place, then release the slot for the new claim.
		held.Status = EscrowExpiredState
		if err := l.scenes.Delete(ctx, existing.ID); err != nil {
			return l.fail("claim_slot", txRef, err)
		}
		l.metrics.addEscrowed(-held.Amount)
		expired = &Event{
			Type:    EventEscrowExpired,
			TxRef:   txRef,
			At:      now,
			SceneID: held.SceneID,
			Buyer:   held.Buyer,
			Amount:  held.Amount,
		}
	} else if !errors.Is(err, tree.ErrSceneNotFound) {
		return l.fail("claim_slot", txRef, err)
	}

	node := &tree.SceneNode{
		MovieID:   movieID,
		ParentID:  &parentID,
		SlotRef:   &slot,
		Status:    tree.StatusEscrowed,
		CreatedAt: now,
	}
	if err := l.scenes.Insert(ctx, node); err != nil {
		return l.fail("claim_slot", txRef, err)
	}

	l.escrows[node.ID] = &Escrow{
		SceneID:   node.ID,
		MovieID:   movieID,
		ParentID:  parentID,
		Buyer:     caller,
		Amount:    payment,
		Status:    EscrowActive,
		CreatedAt: now,
	}
	l.metrics.addEscrowed(payment)

	if expired != nil {
		l.record(*expired)
	}
	return l.commit("claim_slot", txRef, Event{
		Type:     EventSlotClaimed,
		SceneID:  node.ID,
		MovieID:  movieID,
		ParentID: parentID,
		Slot:     &slot,
		Buyer:    caller,
		Amount:   payment,
	})
}

// ConfirmScene finalizes a claim: the scene becomes permanent with the
// buyer as creator, and the escrowed amount fans out across the ancestor
// chain, the movie owner and the platform. Irreversible.
func (l *Ledger) ConfirmScene(ctx context.Context, caller string, sceneID uint64, contentRef string) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txRef := newTxRef()

	esc, ok := l.escrows[sceneID]
	if !ok {
		return l.fail("confirm_scene", txRef, ErrEscrowNotFound)
	}
	if caller != esc.Buyer {
		return l.fail("confirm_scene", txRef, ErrNotEscrowBuyer)
	}
	if esc.Status != EscrowActive {
		return l.fail("confirm_scene", txRef, ErrEscrowNotActive)
	}

	node, err := l.scenes.Get(ctx, sceneID)
	if err != nil {
		return l.fail("confirm_scene", txRef, err)
	}
	movie, err := l.scenes.GetMovie(ctx, esc.MovieID)
	if err != nil {
		return l.fail("confirm_scene", txRef, err)
	}
	ancestors, err := l.scenes.AncestorChain(ctx, esc.ParentID, ancestorDepth)
	if err != nil {
		return l.fail("confirm_scene", txRef, err)
	}

	creators := make([]string, len(ancestors))
	for i, a := range ancestors {
		creators[i] = a.CreatorAddress
	}
	dist := revenue.Split(esc.Amount, l.cfg.Shares, creators, movie.OwnerAddress, l.platform)

	node.Status = tree.StatusCompleted
	node.CreatorAddress = caller
	node.AssetURL = contentRef
	if err := l.scenes.Update(ctx, node); err != nil {
		return l.fail("confirm_scene", txRef, err)
	}

	for addr, amount := range dist.Credits() {
		l.balances[addr] += amount
	}
	esc.Status = EscrowConfirmed
	l.metrics.addEscrowed(-esc.Amount)
	l.metrics.addDistributed(esc.Amount)

	return l.commit("confirm_scene", txRef, Event{
		Type:       EventSceneConfirmed,
		SceneID:    sceneID,
		MovieID:    esc.MovieID,
		Creator:    caller,
		ContentRef: contentRef,
		Amount:     esc.Amount,
	})
}

// RequestRefund voids a claim from Active or Expired: the configured
// percentage of the escrowed amount is paid to the buyer immediately, the
// remainder is credited to the movie owner's withdrawable balance, and the
// slot reopens for new claims.
func (l *Ledger) RequestRefund(ctx context.Context, caller string, sceneID uint64) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txRef := newTxRef()

	esc, ok := l.escrows[sceneID]
	if !ok {
		return l.fail("request_refund", txRef, ErrEscrowNotFound)
	}
	if caller != esc.Buyer {
		return l.fail("request_refund", txRef, ErrNotEscrowBuyer)
	}
	if esc.Status != EscrowActive && esc.Status != EscrowExpiredState {
		return l.fail("request_refund", txRef, ErrEscrowNotActive)
	}

	if esc.Status == EscrowActive {
		// Expired escrows already released their scene row.
		if err := l.scenes.Delete(ctx, sceneID); err != nil {
			return l.fail("request_refund", txRef, err)
		}
		l.metrics.addEscrowed(-esc.Amount)
	}

	refund := esc.Amount * l.cfg.RefundPercentage / 100
	movie, err := l.scenes.GetMovie(ctx, esc.MovieID)
	if err != nil {
		return l.fail("request_refund", txRef, err)
	}
	l.balances[movie.OwnerAddress] += esc.Amount - refund
	l.transfers = append(l.transfers, Transfer{
		TxRef:  txRef,
		To:     esc.Buyer,
		Amount: refund,
		Kind:   "refund",
		At:     l.now().UTC(),
	})
	esc.Status = EscrowRefunded
	l.metrics.addRefunded(refund)

	return l.commit("request_refund", txRef, Event{
		Type:         EventRefundIssued,
		SceneID:      sceneID,
		Buyer:        esc.Buyer,
		Amount:       esc.Amount,
		RefundAmount: refund,
	})
}

// CheckExpiredEscrow transitions an Active escrow past its window to
// Expired and releases the slot. Calling it on an already-Expired escrow is
// a no-op success, so janitorial sweeps may repeat it freely. Funds move
// only on the subsequent refund.
func (l *Ledger) CheckExpiredEscrow(ctx context.Context, sceneID uint64) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txRef := newTxRef()

	esc, ok := l.escrows[sceneID]
	if !ok {
		return l.fail("check_expired", txRef, ErrEscrowNotFound)
	}
	switch esc.Status {
	case EscrowExpiredState:
		return l.commitQuiet("check_expired", txRef)
	case EscrowActive:
		// Fall through to the age check.
	default:
		return l.fail("check_expired", txRef, ErrEscrowNotActive)
	}
	if l.now().UTC().Before(esc.CreatedAt.Add(l.cfg.EscrowDuration)) {
		return l.fail("check_expired", txRef, ErrEscrowNotExpired)
	}

	if err := l.scenes.Delete(ctx, sceneID); err != nil {
		return l.fail("check_expired", txRef, err)
	}
	esc.Status = EscrowExpiredState
	l.metrics.addEscrowed(-esc.Amount)

	return l.commit("check_expired", txRef, Event{
		Type:    EventEscrowExpired,
		SceneID: sceneID,
		Buyer:   esc.Buyer,
		Amount:  esc.Amount,
	})
}

// WithdrawEarnings pays out and zeroes the caller's accumulated balance.
func (l *Ledger) WithdrawEarnings(_ context.Context, caller string) (int64, *Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txRef := newTxRef()

	amount := l.balances[caller]
	if amount == 0 {
		receipt, err := l.fail("withdraw_earnings", txRef, ErrNoEarnings)
		return 0, receipt, err
	}
	l.balances[caller] = 0
	l.transfers = append(l.transfers, Transfer{
		TxRef:  txRef,
		To:     caller,
		Amount: amount,
		Kind:   "withdrawal",
		At:     l.now().UTC(),
	})
	receipt, err := l.commitQuiet("withdraw_earnings", txRef)
	return amount, receipt, err
}

// newTxRef allocates a transaction reference. References double as the
// idempotency tokens that payment verification keys on.
func newTxRef() string {
	return uuid.New().String()
}

// record journals and fans out a secondary event committed inside a larger
// transaction.
func (l *Ledger) record(ev Event) {
	if l.journal != nil {
		_ = l.journal.Append(ev)
	}
	for _, fn := range l.observers {
		go fn(ev)
	}
}

// commit stores a successful receipt carrying the primary event.
func (l *Ledger) commit(op, txRef string, ev Event) (*Receipt, error) {
	ev.TxRef = txRef
	if ev.At.IsZero() {
		ev.At = l.now().UTC()
	}
	l.record(ev)
	receipt := &Receipt{TxRef: txRef, OK: true, Event: &ev, At: ev.At}
	l.receipts[txRef] = receipt
	l.metrics.observeTx(op, nil)
	return receipt, nil
}

// commitQuiet stores a successful receipt with no event.
func (l *Ledger) commitQuiet(op, txRef string) (*Receipt, error) {
	receipt := &Receipt{TxRef: txRef, OK: true, At: l.now().UTC()}
	l.receipts[txRef] = receipt
	l.metrics.observeTx(op, nil)
	return receipt, nil
}

// fail stores a failed receipt and reverts nothing: callers must not have
// mutated state before calling it.
func (l *Ledger) fail(op string, txRef string, err error) (*Receipt, error) {
	receipt := &Receipt{TxRef: txRef, OK: false, ErrorCode: errorCode(err), At: l.now().UTC()}
	l.receipts[txRef] = receipt
	l.metrics.observeTx(op, err)
	return receipt, err
}
