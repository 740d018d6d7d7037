package conflicts

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
)

// Retention bounds for the terminal-conflict audit log: whichever limit
// is hit first wins.
const (
	auditMaxAge     = 30 * 24 * time.Hour
	auditMaxEntries = 500
)

// Store persists SyncConflict records. Unresolved conflicts are live
// state; terminal ones form an append-only audit log with bounded
// retention.
type Store interface {
	// Create records a new conflict, honoring the invariant of at most
	// one unresolved conflict per entity: an existing unresolved record
	// is replaced only if the new conflict's remote version advanced.
	// Returns the effective conflict (new or surviving existing).
	Create(conflict *models.SyncConflict) (*models.SyncConflict, error)

	// Get returns a conflict by id, or models.ErrConflictNotFound.
	Get(id string) (*models.SyncConflict, error)

	// GetUnresolved returns the unresolved conflict for an entity, if any.
	GetUnresolved(entityID string) (*models.SyncConflict, error)

	// Resolve transitions a conflict to a terminal status. Resolving an
	// already-terminal conflict returns models.ErrAlreadyResolved.
	Resolve(id string, status models.ConflictStatus, at time.Time) error

	// ListUnresolved returns unresolved conflicts ordered by priority
	// then detection time.
	ListUnresolved() ([]*models.SyncConflict, error)

	// Close releases resources.
	Close() error
}

// SQLiteStore is the durable conflict store.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
	mu     sync.Mutex
}

// NewSQLiteStore creates a conflict store at dbPath.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open conflict database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "conflict_store"),
	}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize conflict store: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS conflicts (
        id TEXT PRIMARY KEY,
        entity_id TEXT NOT NULL,
        entity_type TEXT NOT NULL,
        base_snapshot TEXT NOT NULL,
        local_snapshot TEXT NOT NULL,
        remote_snapshot TEXT NOT NULL,
        remote_deleted INTEGER NOT NULL DEFAULT 0,
        remote_version TEXT,
        diff TEXT NOT NULL,
        priority TEXT NOT NULL,
        status TEXT NOT NULL,
        detected_at TIMESTAMP NOT NULL,
        resolved_at TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_conflicts_entity ON conflicts(entity_id, status);
    CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status, detected_at);
    `
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Create records a conflict, enforcing the one-unresolved-per-entity rule.
func (s *SQLiteStore) Create(conflict *models.SyncConflict) (*models.SyncConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID, existingVersion string
	err = tx.QueryRow(`
        SELECT id, COALESCE(remote_version, '') FROM conflicts
        WHERE entity_id = ? AND status = ?
    `, conflict.EntityID, string(models.ConflictUnresolved)).Scan(&existingID, &existingVersion)

	switch {
	case err == sql.ErrNoRows:
		// No live conflict; insert below.
	case err != nil:
		return nil, fmt.Errorf("query existing conflict: %w", err)
	case existingVersion == conflict.RemoteVersion:
		// Same remote version: the existing record stands.
		existing, err := s.getLocked(tx, existingID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return existing, nil
	default:
		// Remote advanced: the stale unresolved record is superseded.
		if _, err := tx.Exec(`
            UPDATE conflicts SET status = ?, resolved_at = ? WHERE id = ?
        `, string(models.ConflictSkipped), conflict.DetectedAt, existingID); err != nil {
			return nil, fmt.Errorf("supersede stale conflict: %w", err)
		}
	}

	if err := s.insert(tx, conflict); err != nil {
		return nil, err
	}
	if err := s.pruneAudit(tx, conflict.DetectedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return conflict, nil
}

func (s *SQLiteStore) insert(tx *sql.Tx, c *models.SyncConflict) error {
	base, err := c.Base.MarshalStable()
	if err != nil {
		return fmt.Errorf("marshal base: %w", err)
	}
	local, err := c.Local.MarshalStable()
	if err != nil {
		return fmt.Errorf("marshal local: %w", err)
	}
	remote, err := c.Remote.MarshalStable()
	if err != nil {
		return fmt.Errorf("marshal remote: %w", err)
	}
	diff, err := json.Marshal(c.Diff)
	if err != nil {
		return fmt.Errorf("marshal diff: %w", err)
	}

	deleted := 0
	if c.RemoteDeleted {
		deleted = 1
	}

	_, err = tx.Exec(`
        INSERT INTO conflicts
            (id, entity_id, entity_type, base_snapshot, local_snapshot, remote_snapshot,
             remote_deleted, remote_version, diff, priority, status, detected_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, c.ID, c.EntityID, c.EntityType, string(base), string(local), string(remote),
		deleted, c.RemoteVersion, string(diff), string(c.Priority), string(c.Status), c.DetectedAt)
	if err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	return nil
}

// pruneAudit enforces the retention window on terminal conflicts.
func (s *SQLiteStore) pruneAudit(tx *sql.Tx, now time.Time) error {
	cutoff := now.Add(-auditMaxAge)
	if _, err := tx.Exec(`
        DELETE FROM conflicts WHERE status != ? AND detected_at < ?
    `, string(models.ConflictUnresolved), cutoff); err != nil {
		return fmt.Errorf("prune audit by age: %w", err)
	}

	if _, err := tx.Exec(`
        DELETE FROM conflicts WHERE status != ? AND id NOT IN (
            SELECT id FROM conflicts WHERE status != ?
            ORDER BY detected_at DESC LIMIT ?
        )
    `, string(models.ConflictUnresolved), string(models.ConflictUnresolved), auditMaxEntries); err != nil {
		return fmt.Errorf("prune audit by count: %w", err)
	}
	return nil
}

// Get returns a conflict by id.
func (s *SQLiteStore) Get(id string) (*models.SyncConflict, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return s.getLocked(tx, id)
}

func (s *SQLiteStore) getLocked(tx *sql.Tx, id string) (*models.SyncConflict, error) {
	row := tx.QueryRow(`
        SELECT id, entity_id, entity_type, base_snapshot, local_snapshot, remote_snapshot,
               remote_deleted, remote_version, diff, priority, status, detected_at, resolved_at
        FROM conflicts WHERE id = ?
    `, id)
	conflict, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrConflictNotFound
	}
	return conflict, err
}

// GetUnresolved returns the live conflict for an entity, if any.
func (s *SQLiteStore) GetUnresolved(entityID string) (*models.SyncConflict, error) {
	row := s.db.QueryRow(`
        SELECT id, entity_id, entity_type, base_snapshot, local_snapshot, remote_snapshot,
               remote_deleted, remote_version, diff, priority, status, detected_at, resolved_at
        FROM conflicts WHERE entity_id = ? AND status = ?
    `, entityID, string(models.ConflictUnresolved))
	conflict, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrConflictNotFound
	}
	return conflict, err
}

// Resolve transitions a conflict to a terminal status.
func (s *SQLiteStore) Resolve(id string, status models.ConflictStatus, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("resolve requires a terminal status, got %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
        UPDATE conflicts SET status = ?, resolved_at = ?
        WHERE id = ? AND status = ?
    `, string(status), at, id, string(models.ConflictUnresolved))
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current string
		err := s.db.QueryRow(`SELECT status FROM conflicts WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return models.ErrConflictNotFound
		}
		if err != nil {
			return fmt.Errorf("query conflict status: %w", err)
		}
		return models.ErrAlreadyResolved
	}
	return nil
}

// ListUnresolved returns live conflicts, most urgent first.
func (s *SQLiteStore) ListUnresolved() ([]*models.SyncConflict, error) {
	rows, err := s.db.Query(`
        SELECT id, entity_id, entity_type, base_snapshot, local_snapshot, remote_snapshot,
               remote_deleted, remote_version, diff, priority, status, detected_at, resolved_at
        FROM conflicts WHERE status = ?
        ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, detected_at
    `, string(models.ConflictUnresolved))
	if err != nil {
		return nil, fmt.Errorf("query unresolved: %w", err)
	}
	defer rows.Close()

	var out []*models.SyncConflict
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conflict)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConflict(row rowScanner) (*models.SyncConflict, error) {
	var (
		c             models.SyncConflict
		base          string
		local         string
		remote        string
		deleted       int
		remoteVersion sql.NullString
		diff          string
		priority      string
		status        string
		resolvedAt    sql.NullTime
	)

	err := row.Scan(&c.ID, &c.EntityID, &c.EntityType, &base, &local, &remote,
		&deleted, &remoteVersion, &diff, &priority, &status, &c.DetectedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	if c.Base, err = models.ParseFields([]byte(base)); err != nil {
		return nil, &models.CorruptRecordError{Store: "conflicts", Key: c.ID, Err: err}
	}
	if c.Local, err = models.ParseFields([]byte(local)); err != nil {
		return nil, &models.CorruptRecordError{Store: "conflicts", Key: c.ID, Err: err}
	}
	if c.Remote, err = models.ParseFields([]byte(remote)); err != nil {
		return nil, &models.CorruptRecordError{Store: "conflicts", Key: c.ID, Err: err}
	}
	if err := json.Unmarshal([]byte(diff), &c.Diff); err != nil {
		return nil, &models.CorruptRecordError{Store: "conflicts", Key: c.ID, Err: err}
	}

	c.RemoteDeleted = deleted != 0
	if remoteVersion.Valid {
		c.RemoteVersion = remoteVersion.String
	}
	c.Priority = models.ConflictPriority(priority)
	c.Status = models.ConflictStatus(status)
	if resolvedAt.Valid {
		c.ResolvedAt = resolvedAt.Time
	}
	return &c, nil
}
