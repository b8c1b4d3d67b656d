package tree

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code raised when an insert breaks
// the UNIQUE (movie_id, parent_id, slot) constraint.
const uniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL. The scene_nodes table's
// unique constraint on (movie_id, parent_id, slot) provides the insert
// atomicity that slot locking relies on; no advisory locks are taken.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore bound to the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateMovie stores a movie and its genesis scene in one transaction.
func (s *PostgresStore) CreateMovie(ctx context.Context, m *Movie) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	if m.ID != 0 {
		// Mirror registration under the ledger's movie id. The id column is
		// GENERATED BY DEFAULT, so explicit ids are accepted.
		_, err = tx.ExecContext(ctx,
			`INSERT INTO movies (id, title, owner_address, price, active, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.Title, m.OwnerAddress, m.Price, m.Active, m.CreatedAt,
		)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrMovieExists
		}
	} else {
		err = tx.QueryRowContext(ctx,
			`INSERT INTO movies (title, owner_address, price, active, created_at)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			m.Title, m.OwnerAddress, m.Price, m.Active, m.CreatedAt,
		).Scan(&m.ID)
	}
	if err != nil {
		return err
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO scene_nodes (movie_id, status, creator_address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4) RETURNING id`,
		m.ID, int(StatusCompleted), m.OwnerAddress, m.CreatedAt,
	).Scan(&m.GenesisSceneID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE movies SET genesis_scene_id = $1 WHERE id = $2`,
		m.GenesisSceneID, m.ID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GetMovie retrieves a movie by id.
func (s *PostgresStore) GetMovie(ctx context.Context, id uint64) (*Movie, error) {
	var m Movie
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, owner_address, price, active, genesis_scene_id, created_at
		 FROM movies WHERE id = $1`, id,
	).Scan(&m.ID, &m.Title, &m.OwnerAddress, &m.Price, &m.Active, &m.GenesisSceneID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMovieNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SetMovieActive flips a movie's active flag.
func (s *PostgresStore) SetMovieActive(ctx context.Context, id uint64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE movies SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMovieNotFound
	}
	return nil
}

// Insert stores a new scene node. A unique-constraint violation from the
// database maps to ErrSlotOccupied, which callers must treat as a lost race
// rather than a retryable failure.
func (s *PostgresStore) Insert(ctx context.Context, n *SceneNode) error {
	if n.ParentID == nil || n.SlotRef == nil {
		return ErrInvalidSlot
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.UpdatedAt = n.CreatedAt

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO scene_nodes
		   (movie_id, parent_id, slot, status, locked_by, locked_until, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
		n.MovieID, *n.ParentID, int(*n.SlotRef), int(n.Status), n.LockedBy,
		nullTime(n.LockedUntil), n.CreatedAt,
	).Scan(&n.ID)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return ErrSlotOccupied
	}
	return err
}

// Get retrieves a scene node by id.
func (s *PostgresStore) Get(ctx context.Context, id uint64) (*SceneNode, error) {
	return s.scanNode(s.db.QueryRowContext(ctx, selectNode+` WHERE id = $1`, id))
}

// GetBySlot retrieves the scene node holding a slot.
func (s *PostgresStore) GetBySlot(ctx context.Context, movieID, parentID uint64, slot Slot) (*SceneNode, error) {
	return s.scanNode(s.db.QueryRowContext(ctx,
		selectNode+` WHERE movie_id = $1 AND parent_id = $2 AND slot = $3`,
		movieID, parentID, int(slot)))
}

// Update rewrites the mutable fields of an existing scene node.
func (s *PostgresStore) Update(ctx context.Context, n *SceneNode) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scene_nodes
		 SET status = $1, creator_address = $2, locked_by = $3, locked_until = $4,
		     ledger_scene_id = $5, asset_url = $6, updated_at = now()
		 WHERE id = $7`,
		int(n.Status), n.CreatorAddress, n.LockedBy, nullTime(n.LockedUntil),
		nullID(n.LedgerSceneID), n.AssetURL, n.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSceneNotFound
	}
	return nil
}

// UpdateIf rewrites the mutable fields only while the row still holds the
// expected status and claimant. The WHERE predicate makes the rewrite a
// compare-and-swap; a racing Reclaim that commits first leaves this one
// with zero affected rows.
func (s *PostgresStore) UpdateIf(ctx context.Context, n *SceneNode, expect SceneStatus, expectLockedBy string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scene_nodes
		 SET status = $1, creator_address = $2, locked_by = $3, locked_until = $4,
		     ledger_scene_id = $5, asset_url = $6, updated_at = now()
		 WHERE id = $7 AND status = $8 AND locked_by = $9`,
		int(n.Status), n.CreatorAddress, n.LockedBy, nullTime(n.LockedUntil),
		nullID(n.LedgerSceneID), n.AssetURL, n.ID, int(expect), expectLockedBy)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, n.ID); getErr != nil {
			return ErrSceneNotFound
		}
		return ErrReclaimConflict
	}
	return nil
}

// Delete removes a scene node, freeing its slot. Completed scenes are
// immutable and never deleted.
func (s *PostgresStore) Delete(ctx context.Context, id uint64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scene_nodes WHERE id = $1 AND status <> $2`, id, int(StatusCompleted))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr == nil {
			return ErrSceneImmutable
		}
		return ErrSceneNotFound
	}
	return nil
}

// Reclaim rewrites a stale row for a new claimant. The status predicate in
// the WHERE clause makes the rewrite a compare-and-swap: a racing reclaim
// that commits first leaves this one with zero affected rows.
func (s *PostgresStore) Reclaim(ctx context.Context, id uint64, expect SceneStatus, claimant string, until time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scene_nodes
		 SET status = $1, locked_by = $2, locked_until = $3,
		     creator_address = '', ledger_scene_id = NULL, asset_url = '',
		     created_at = now(), updated_at = now()
		 WHERE id = $4 AND status = $5`,
		int(StatusLocked), claimant, until, id, int(expect))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return ErrSceneNotFound
		}
		return ErrReclaimConflict
	}
	return nil
}

// AncestorChain walks parent links upward, excluding the genesis node.
// Depth is bounded at three in practice so the loop issues at most four
// single-row queries.
func (s *PostgresStore) AncestorChain(ctx context.Context, startID uint64, maxDepth int) ([]SceneNode, error) {
	chain := make([]SceneNode, 0, maxDepth)
	current, err := s.Get(ctx, startID)
	if err != nil {
		return nil, err
	}
	for len(chain) < maxDepth {
		if current.Genesis() {
			break
		}
		chain = append(chain, *current)
		current, err = s.Get(ctx, *current.ParentID)
		if err != nil {
			return nil, err
		}
	}
	return chain, nil
}

// Children lists the scene nodes extending a scene, ordered by slot.
func (s *PostgresStore) Children(ctx context.Context, sceneID uint64) ([]SceneNode, error) {
	rows, err := s.db.QueryContext(ctx, selectNode+` WHERE parent_id = $1 ORDER BY slot`, sceneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []SceneNode
	for rows.Next() {
		n, err := scanNodeRow(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, *n)
	}
	return children, rows.Err()
}

const selectNode = `SELECT id, movie_id, parent_id, slot, status, creator_address,
	locked_by, locked_until, ledger_scene_id, asset_url, created_at, updated_at
	FROM scene_nodes`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanNode(row *sql.Row) (*SceneNode, error) {
	n, err := scanNodeRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSceneNotFound
	}
	return n, err
}

func scanNodeRow(row rowScanner) (*SceneNode, error) {
	var (
		n           SceneNode
		parentID    sql.NullInt64
		slot        sql.NullInt64
		status      int
		lockedUntil sql.NullTime
		ledgerID    sql.NullInt64
	)
	err := row.Scan(&n.ID, &n.MovieID, &parentID, &slot, &status, &n.CreatorAddress,
		&n.LockedBy, &lockedUntil, &ledgerID, &n.AssetURL, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		pid := uint64(parentID.Int64)
		n.ParentID = &pid
	}
	if slot.Valid {
		sl := Slot(slot.Int64)
		n.SlotRef = &sl
	}
	if lockedUntil.Valid {
		n.LockedUntil = lockedUntil.Time
	}
	if ledgerID.Valid {
		lid := uint64(ledgerID.Int64)
		n.LedgerSceneID = &lid
	}
	n.Status = SceneStatus(status)
	return &n, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullID(id *uint64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}
