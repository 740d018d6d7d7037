package state

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
)

// SQLiteStore implements SQLite-based sync state storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
	mu     sync.Mutex
}

// NewSQLiteStore creates a SQLite sync state store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "state_store"),
	}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize state store: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS sync_states (
        entity_id TEXT PRIMARY KEY,
        entity_type TEXT NOT NULL,
        local_modified_at TIMESTAMP,
        remote_version TEXT,
        dirty INTEGER NOT NULL DEFAULT 0,
        remote_ref TEXT,
        base_snapshot TEXT NOT NULL DEFAULT '{}',
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_sync_states_dirty ON sync_states(dirty);
    `
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load retrieves state for an entity.
func (s *SQLiteStore) Load(entityID string) (*models.SyncState, error) {
	var (
		st            models.SyncState
		localModified sql.NullTime
		remoteVersion sql.NullString
		remoteRef     sql.NullString
		baseSnapshot  string
		dirty         int
	)

	err := s.db.QueryRow(`
        SELECT entity_type, local_modified_at, remote_version, dirty, remote_ref, base_snapshot, updated_at
        FROM sync_states WHERE entity_id = ?
    `, entityID).Scan(&st.EntityType, &localModified, &remoteVersion, &dirty, &remoteRef, &baseSnapshot, &st.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, models.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	st.EntityID = entityID
	st.Dirty = dirty != 0
	if localModified.Valid {
		st.LocalModifiedAt = localModified.Time
	}
	if remoteVersion.Valid {
		st.RemoteVersion = remoteVersion.String
	}
	if remoteRef.Valid {
		st.RemoteRef = remoteRef.String
	}

	fields, err := models.ParseFields([]byte(baseSnapshot))
	if err != nil {
		// A corrupt snapshot must not take the engine down; treat the
		// base as unknown so the next sync resolves via conflict paths.
		s.logger.WithError(&models.CorruptRecordError{
			Store: "sync_states", Key: entityID, Err: err,
		}).Warn("Corrupt base snapshot, treating as empty")
		fields = models.Fields{}
	}
	st.BaseSnapshot = fields

	return &st, nil
}

// Save upserts state for an entity.
func (s *SQLiteStore) Save(state *models.SyncState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := state.BaseSnapshot.MarshalStable()
	if err != nil {
		return fmt.Errorf("marshal base snapshot: %w", err)
	}

	dirty := 0
	if state.Dirty {
		dirty = 1
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = s.db.Exec(`
        INSERT INTO sync_states
            (entity_id, entity_type, local_modified_at, remote_version, dirty, remote_ref, base_snapshot, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(entity_id) DO UPDATE SET
            entity_type = excluded.entity_type,
            local_modified_at = excluded.local_modified_at,
            remote_version = excluded.remote_version,
            dirty = excluded.dirty,
            remote_ref = excluded.remote_ref,
            base_snapshot = excluded.base_snapshot,
            updated_at = excluded.updated_at
    `, state.EntityID, state.EntityType, state.LocalModifiedAt, state.RemoteVersion, dirty, state.RemoteRef, string(snapshot), updatedAt)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// Delete removes state for an entity.
func (s *SQLiteStore) Delete(entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM sync_states WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// ListDirty returns entity ids awaiting push.
func (s *SQLiteStore) ListDirty() ([]string, error) {
	rows, err := s.db.Query(`SELECT entity_id FROM sync_states WHERE dirty = 1 ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("query dirty: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of tracked entities.
func (s *SQLiteStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_states`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count states: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
