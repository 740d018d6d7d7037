package queue

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
)

// SQLiteQueue is the durable queue implementation. Operations are ordered
// by a monotonic seq column; per-entity order is therefore enqueue order.
type SQLiteQueue struct {
	db          *sql.DB
	logger      *events.Logger
	maxAttempts int

	mu sync.Mutex // serializes all mutations (single-writer discipline)
}

// NewSQLiteQueue opens (or creates) the queue at dbPath. maxAttempts is
// the total attempt ceiling across sync cycles before an operation is
// marked permanently failed.
func NewSQLiteQueue(dbPath string, maxAttempts int, logger *events.Logger) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}

	q := &SQLiteQueue{
		db:          db,
		logger:      logger.WithField("component", "pending_queue"),
		maxAttempts: maxAttempts,
	}
	if err := q.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize queue: %w", err)
	}
	return q, nil
}

func (q *SQLiteQueue) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS pending_operations (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        entity_type TEXT NOT NULL,
        entity_id TEXT NOT NULL,
        kind TEXT NOT NULL,
        payload TEXT,
        base_version TEXT,
        created_at TIMESTAMP NOT NULL,
        attempts INTEGER NOT NULL DEFAULT 0,
        last_error TEXT
    );

    CREATE INDEX IF NOT EXISTS idx_pending_entity ON pending_operations(entity_id);

    CREATE TABLE IF NOT EXISTS quarantined_operations (
        seq INTEGER PRIMARY KEY,
        id TEXT,
        raw TEXT,
        reason TEXT,
        quarantined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );
    `
	if _, err := q.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Enqueue appends a mutation, applying coalescing rules in one transaction.
func (q *SQLiteQueue) Enqueue(op *models.PendingOperation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	switch op.Kind {
	case models.OpDelete:
		// A delete supersedes everything queued for the entity.
		if _, err := tx.Exec(`DELETE FROM pending_operations WHERE entity_id = ?`, op.EntityID); err != nil {
			return fmt.Errorf("supersede prior operations: %w", err)
		}
		if err := q.insert(tx, op); err != nil {
			return err
		}

	case models.OpUpdate:
		var seq int64
		var kind string
		err := tx.QueryRow(`
            SELECT seq, kind FROM pending_operations
            WHERE entity_id = ?
            ORDER BY seq DESC LIMIT 1
        `, op.EntityID).Scan(&seq, &kind)

		switch {
		case err == sql.ErrNoRows:
			if err := q.insert(tx, op); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("query pending for entity: %w", err)
		case models.OperationKind(kind) == models.OpDelete:
			// The entity is being removed; the delete wins.
			q.logger.WithFields(map[string]interface{}{
				"entity_id":    op.EntityID,
				"operation_id": op.ID,
			}).Warn("Dropping update enqueued after pending delete")
			return tx.Commit()
		default:
			// Replace the existing operation's payload in place so the
			// queue carries one operation per entity, in original order.
			payload, err := op.Payload.MarshalStable()
			if err != nil {
				return fmt.Errorf("marshal payload: %w", err)
			}
			if _, err := tx.Exec(`
                UPDATE pending_operations SET payload = ?, last_error = NULL
                WHERE seq = ?
            `, string(payload), seq); err != nil {
				return fmt.Errorf("coalesce update: %w", err)
			}
		}

	default: // create
		if err := q.insert(tx, op); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (q *SQLiteQueue) insert(tx *sql.Tx, op *models.PendingOperation) error {
	var payload string
	if op.Kind != models.OpDelete {
		data, err := op.Payload.MarshalStable()
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payload = string(data)
	}

	createdAt := op.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := tx.Exec(`
        INSERT INTO pending_operations
            (id, entity_type, entity_id, kind, payload, base_version, created_at, attempts, last_error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, op.ID, op.EntityType, op.EntityID, string(op.Kind), payload, op.BaseVersion, createdAt, op.Attempts, op.LastError)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// PeekBatch returns up to maxCount operations in enqueue order.
func (q *SQLiteQueue) PeekBatch(maxCount int) ([]*models.PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.Query(`
        SELECT seq, id, entity_type, entity_id, kind, payload, base_version, created_at, attempts, last_error
        FROM pending_operations
        ORDER BY seq
        LIMIT ?
    `, maxCount)
	if err != nil {
		return nil, fmt.Errorf("query batch: %w", err)
	}
	defer rows.Close()

	var ops []*models.PendingOperation
	var corrupt []corruptRow

	for rows.Next() {
		var (
			seq                 int64
			id, etype, eid      string
			kind, payload       string
			baseVersion         sql.NullString
			createdAt           time.Time
			attempts            int
			lastError           sql.NullString
		)
		if err := rows.Scan(&seq, &id, &etype, &eid, &kind, &payload, &baseVersion, &createdAt, &attempts, &lastError); err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}

		op := &models.PendingOperation{
			ID:         id,
			EntityType: etype,
			EntityID:   eid,
			Kind:       models.OperationKind(kind),
			CreatedAt:  createdAt,
			Attempts:   attempts,
		}
		if baseVersion.Valid {
			op.BaseVersion = baseVersion.String
		}
		if lastError.Valid {
			op.LastError = lastError.String
		}
		if op.Kind != models.OpDelete {
			fields, err := models.ParseFields([]byte(payload))
			if err != nil {
				corrupt = append(corrupt, corruptRow{seq: seq, id: id, raw: payload, err: err})
				continue
			}
			op.Payload = fields
		}
		if err := op.Validate(); err != nil {
			corrupt = append(corrupt, corruptRow{seq: seq, id: id, raw: payload, err: err})
			continue
		}

		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}

	for _, c := range corrupt {
		q.quarantine(c)
	}

	return ops, nil
}

type corruptRow struct {
	seq int64
	id  string
	raw string
	err error
}

// quarantine isolates a corrupt row so it cannot wedge the queue, keeping
// the raw bytes for diagnosis.
func (q *SQLiteQueue) quarantine(c corruptRow) {
	cerr := &models.CorruptRecordError{Store: "pending_operations", Key: c.id, Err: c.err}
	q.logger.WithError(cerr).Warn("Quarantining corrupt queue entry")

	tx, err := q.db.Begin()
	if err != nil {
		q.logger.WithError(err).Error("Failed to begin quarantine transaction")
		return
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
        INSERT OR IGNORE INTO quarantined_operations (seq, id, raw, reason)
        VALUES (?, ?, ?, ?)
    `, c.seq, c.id, c.raw, c.err.Error()); err != nil {
		q.logger.WithError(err).Error("Failed to quarantine row")
		return
	}
	if _, err := tx.Exec(`DELETE FROM pending_operations WHERE seq = ?`, c.seq); err != nil {
		q.logger.WithError(err).Error("Failed to remove corrupt row")
		return
	}
	if err := tx.Commit(); err != nil {
		q.logger.WithError(err).Error("Failed to commit quarantine")
	}
}

// Acknowledge removes confirmed operations. Unknown ids are ignored.
func (q *SQLiteQueue) Acknowledge(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`DELETE FROM pending_operations WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("acknowledge %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// MarkFailed increments the attempt count; at the ceiling the operation
// is removed and returned with permanent=true.
func (q *SQLiteQueue) MarkFailed(id string, cause error) (*models.PendingOperation, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	res, err := q.db.Exec(`
        UPDATE pending_operations SET attempts = attempts + 1, last_error = ?
        WHERE id = ?
    `, msg, id)
	if err != nil {
		return nil, false, fmt.Errorf("mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, false, nil
	}

	var (
		etype, eid, kind string
		payload          string
		attempts         int
		createdAt        time.Time
	)
	err = q.db.QueryRow(`
        SELECT entity_type, entity_id, kind, payload, attempts, created_at
        FROM pending_operations WHERE id = ?
    `, id).Scan(&etype, &eid, &kind, &payload, &attempts, &createdAt)
	if err != nil {
		return nil, false, fmt.Errorf("reload operation: %w", err)
	}

	if attempts < q.maxAttempts {
		return nil, false, nil
	}

	op := &models.PendingOperation{
		ID:         id,
		EntityType: etype,
		EntityID:   eid,
		Kind:       models.OperationKind(kind),
		CreatedAt:  createdAt,
		Attempts:   attempts,
		LastError:  msg,
	}
	if op.Kind != models.OpDelete {
		if fields, perr := models.ParseFields([]byte(payload)); perr == nil {
			op.Payload = fields
		}
	}

	if _, err := q.db.Exec(`DELETE FROM pending_operations WHERE id = ?`, id); err != nil {
		return nil, false, fmt.Errorf("remove exhausted operation: %w", err)
	}

	q.logger.WithFields(map[string]interface{}{
		"operation_id": id,
		"entity_id":    eid,
		"attempts":     attempts,
	}).Error("Operation permanently failed")

	return op, true, nil
}

// PendingFor counts queued operations for an entity.
func (q *SQLiteQueue) PendingFor(entityID string) (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM pending_operations WHERE entity_id = ?`, entityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// DiscardFor removes all queued operations for an entity.
func (q *SQLiteQueue) DiscardFor(entityID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(`DELETE FROM pending_operations WHERE entity_id = ?`, entityID)
	if err != nil {
		return 0, fmt.Errorf("discard pending: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Depth returns the queue size.
func (q *SQLiteQueue) Depth() (int, error) {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM pending_operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}
