package tree

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Repository errors.
var (
	// ErrSceneNotFound is returned when a scene node does not exist.
	ErrSceneNotFound = errors.New("scene not found")

	// ErrMovieNotFound is returned when a movie does not exist.
	ErrMovieNotFound = errors.New("movie not found")

	// ErrSlotOccupied is returned when an insert collides with an existing
	// row for the same (movie, parent, slot) triple. This is the store's
	// uniqueness guarantee and the only synchronization primitive used by
	// slot locking: concurrent inserts for one triple yield exactly one
	// winner.
	ErrSlotOccupied = errors.New("slot already occupied")

	// ErrReclaimConflict is returned when an in-place rewrite of a stale
	// row loses the race to another claimant.
	ErrReclaimConflict = errors.New("scene row changed since staleness check")

	// ErrSceneImmutable is returned when attempting to modify or delete a
	// completed scene.
	ErrSceneImmutable = errors.New("completed scene is immutable")
)

// Store persists movies and scene nodes. Implementations must enforce
// uniqueness on (movie_id, parent_id, slot) across all rows, and must make
// Insert and Reclaim atomic with respect to concurrent callers.
type Store interface {
	// CreateMovie stores a movie and its genesis scene, assigning both ids.
	// A preset nonzero m.ID is honored instead, so a mirror store can
	// register movies under the ledger's id space.
	CreateMovie(ctx context.Context, m *Movie) error

	// GetMovie retrieves a movie by id.
	GetMovie(ctx context.Context, id uint64) (*Movie, error)

	// SetMovieActive flips a movie's active flag.
	SetMovieActive(ctx context.Context, id uint64, active bool) error

	// Insert stores a new scene node, assigning a fresh id.
	// Returns ErrSlotOccupied if the (movie, parent, slot) triple is held.
	Insert(ctx context.Context, n *SceneNode) error

	// Get retrieves a scene node by id.
	Get(ctx context.Context, id uint64) (*SceneNode, error)

	// GetBySlot retrieves the scene node holding a slot, if any.
	GetBySlot(ctx context.Context, movieID, parentID uint64, slot Slot) (*SceneNode, error)

	// Update rewrites an existing scene node in place.
	Update(ctx context.Context, n *SceneNode) error

	// UpdateIf rewrites a row only while it still holds the expected status
	// and claimant, as a compare-and-swap like Reclaim. A row that moved on
	// since the caller read it yields ErrReclaimConflict.
	UpdateIf(ctx context.Context, n *SceneNode, expect SceneStatus, expectLockedBy string) error

	// Delete removes a scene node, freeing its slot for new claims.
	// Returns ErrSceneImmutable for completed scenes.
	Delete(ctx context.Context, id uint64) error

	// Reclaim atomically rewrites a stale row to a fresh Locked state for a
	// new claimant, keeping the same id. The rewrite applies only while the
	// row is still in the expected status; otherwise ErrReclaimConflict.
	Reclaim(ctx context.Context, id uint64, expect SceneStatus, claimant string, until time.Time) error

	// AncestorChain walks parent links from startID upward, returning up to
	// maxDepth non-genesis ancestors ordered nearest first. The walk always
	// stops at the movie's genesis node.
	AncestorChain(ctx context.Context, startID uint64, maxDepth int) ([]SceneNode, error)

	// Children lists the scene nodes extending a scene.
	Children(ctx context.Context, sceneID uint64) ([]SceneNode, error)
}

// slotKey is the composite uniqueness key for scene rows.
type slotKey struct {
	movieID  uint64
	parentID uint64
	slot     Slot
}

// InMemoryStore implements Store with map storage. It backs the settlement
// ledger's authoritative tree and is the default mirror store in tests and
// development.
type InMemoryStore struct {
	mu          sync.RWMutex
	movies      map[uint64]*Movie
	nodes       map[uint64]*SceneNode
	slots       map[slotKey]uint64
	nextMovieID uint64
	nextSceneID uint64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		movies:      make(map[uint64]*Movie),
		nodes:       make(map[uint64]*SceneNode),
		slots:       make(map[slotKey]uint64),
		nextMovieID: 1,
		nextSceneID: 1,
	}
}

// ErrMovieExists is returned when a preset movie id is already registered.
var ErrMovieExists = errors.New("movie id already registered")

// CreateMovie stores a movie and mints its genesis scene. The genesis node
// is completed immediately with the movie owner as creator.
func (s *InMemoryStore) CreateMovie(_ context.Context, m *Movie) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == 0 {
		m.ID = s.nextMovieID
		s.nextMovieID++
	} else {
		if _, exists := s.movies[m.ID]; exists {
			return ErrMovieExists
		}
		if m.ID >= s.nextMovieID {
			s.nextMovieID = m.ID + 1
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	genesis := &SceneNode{
		ID:             s.nextSceneID,
		MovieID:        m.ID,
		Status:         StatusCompleted,
		CreatorAddress: m.OwnerAddress,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.CreatedAt,
	}
	s.nextSceneID++
	m.GenesisSceneID = genesis.ID

	s.nodes[genesis.ID] = genesis
	copied := *m
	s.movies[m.ID] = &copied
	return nil
}

// GetMovie retrieves a movie by id.
func (s *InMemoryStore) GetMovie(_ context.Context, id uint64) (*Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.movies[id]
	if !ok {
		return nil, ErrMovieNotFound
	}
	copied := *m
	return &copied, nil
}

// SetMovieActive flips a movie's active flag.
func (s *InMemoryStore) SetMovieActive(_ context.Context, id uint64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.movies[id]
	if !ok {
		return ErrMovieNotFound
	}
	m.Active = active
	return nil
}

// Insert stores a new scene node under the uniqueness constraint.
func (s *InMemoryStore) Insert(_ context.Context, n *SceneNode) error {
	if n.ParentID == nil || n.SlotRef == nil {
		return ErrInvalidSlot
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.movies[n.MovieID]; !ok {
		return ErrMovieNotFound
	}
	parent, ok := s.nodes[*n.ParentID]
	if !ok || parent.MovieID != n.MovieID {
		return ErrSceneNotFound
	}

	key := slotKey{n.MovieID, *n.ParentID, *n.SlotRef}
	if _, held := s.slots[key]; held {
		return ErrSlotOccupied
	}

	n.ID = s.nextSceneID
	s.nextSceneID++
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = n.CreatedAt

	copied := copyNode(n)
	s.nodes[n.ID] = copied
	s.slots[key] = n.ID
	return nil
}

// Get retrieves a scene node by id.
func (s *InMemoryStore) Get(_ context.Context, id uint64) (*SceneNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrSceneNotFound
	}
	return copyNode(n), nil
}

// GetBySlot retrieves the scene node holding a slot.
func (s *InMemoryStore) GetBySlot(_ context.Context, movieID, parentID uint64, slot Slot) (*SceneNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.slots[slotKey{movieID, parentID, slot}]
	if !ok {
		return nil, ErrSceneNotFound
	}
	return copyNode(s.nodes[id]), nil
}

// Update rewrites an existing scene node. The id, parentage and slot of the
// stored row are kept; callers cannot move a node.
func (s *InMemoryStore) Update(_ context.Context, n *SceneNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.nodes[n.ID]
	if !ok {
		return ErrSceneNotFound
	}
	s.nodes[n.ID] = overwriteNode(stored, n)
	return nil
}

// UpdateIf rewrites a row only while it still holds the expected status and
// claimant. The check and the rewrite share the store lock, so a Reclaim
// that landed after the caller's read loses nothing.
func (s *InMemoryStore) UpdateIf(_ context.Context, n *SceneNode, expect SceneStatus, expectLockedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.nodes[n.ID]
	if !ok {
		return ErrSceneNotFound
	}
	if stored.Status != expect || stored.LockedBy != expectLockedBy {
		return ErrReclaimConflict
	}
	s.nodes[n.ID] = overwriteNode(stored, n)
	return nil
}

// overwriteNode copies n over stored, keeping the immutable columns.
func overwriteNode(stored, n *SceneNode) *SceneNode {
	copied := copyNode(n)
	copied.MovieID = stored.MovieID
	copied.ParentID = stored.ParentID
	copied.SlotRef = stored.SlotRef
	copied.CreatedAt = stored.CreatedAt
	copied.UpdatedAt = time.Now().UTC()
	return copied
}

// Delete removes a scene node and releases its slot.
func (s *InMemoryStore) Delete(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return ErrSceneNotFound
	}
	if n.Status == StatusCompleted {
		return ErrSceneImmutable
	}
	if n.ParentID != nil && n.SlotRef != nil {
		delete(s.slots, slotKey{n.MovieID, *n.ParentID, *n.SlotRef})
	}
	delete(s.nodes, id)
	return nil
}

// Reclaim rewrites a stale row in place for a new claimant. Compare-and-swap
// on the status guards against a concurrent reclaim of the same row.
func (s *InMemoryStore) Reclaim(_ context.Context, id uint64, expect SceneStatus, claimant string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return ErrSceneNotFound
	}
	if n.Status != expect {
		return ErrReclaimConflict
	}

	n.Status = StatusLocked
	n.LockedBy = claimant
	n.LockedUntil = until
	n.CreatorAddress = ""
	n.LedgerSceneID = nil
	n.AssetURL = ""
	n.CreatedAt = time.Now().UTC()
	n.UpdatedAt = n.CreatedAt
	return nil
}

// AncestorChain walks parent links upward from startID, skipping nothing
// until the genesis node, which is excluded.
func (s *InMemoryStore) AncestorChain(_ context.Context, startID uint64, maxDepth int) ([]SceneNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := make([]SceneNode, 0, maxDepth)
	current, ok := s.nodes[startID]
	if !ok {
		return nil, ErrSceneNotFound
	}
	for len(chain) < maxDepth {
		if current.Genesis() {
			break
		}
		chain = append(chain, *copyNode(current))
		parent, ok := s.nodes[*current.ParentID]
		if !ok {
			return nil, ErrSceneNotFound
		}
		current = parent
	}
	return chain, nil
}

// Children lists the scene nodes extending a scene, ordered by slot.
func (s *InMemoryStore) Children(_ context.Context, sceneID uint64) ([]SceneNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parent, ok := s.nodes[sceneID]
	if !ok {
		return nil, ErrSceneNotFound
	}

	children := make([]SceneNode, 0, 3)
	for _, slot := range []Slot{SlotA, SlotB, SlotC} {
		if id, held := s.slots[slotKey{parent.MovieID, sceneID, slot}]; held {
			children = append(children, *copyNode(s.nodes[id]))
		}
	}
	return children, nil
}

// copyNode deep-copies a scene node to prevent external mutation.
func copyNode(n *SceneNode) *SceneNode {
	copied := *n
	if n.ParentID != nil {
		pid := *n.ParentID
		copied.ParentID = &pid
	}
	if n.SlotRef != nil {
		slot := *n.SlotRef
		copied.SlotRef = &slot
	}
	if n.LedgerSceneID != nil {
		lid := *n.LedgerSceneID
		copied.LedgerSceneID = &lid
	}
	return &copied
}
