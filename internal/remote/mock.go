package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chartkit/chartsync/internal/models"
)

// MockClient provides a scriptable in-memory remote store for tests.
type MockClient struct {
	mu sync.Mutex

	// Records keyed by entity id; versions increment per push.
	records map[string]models.RemoteRecord
	nextVer int

	// Change log in arrival order; cursor is an index into it.
	changes []models.RemoteRecord

	// Scripted failures: each call to Push/Pull consumes one if present.
	pushErrs []error
	pullErrs []error

	// acked operation ids, for idempotent re-push.
	acked map[string]string // op id -> version

	pushedBatches [][]*models.PendingOperation
	meta          *models.StoreMetadata
}

// NewMockClient creates an empty mock store.
func NewMockClient() *MockClient {
	return &MockClient{
		records: make(map[string]models.RemoteRecord),
		acked:   make(map[string]string),
		meta:    &models.StoreMetadata{SchemaVersion: 1, QuotaLimit: 1 << 30},
	}
}

// FailPushes schedules errors for upcoming Push calls, in order.
func (m *MockClient) FailPushes(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushErrs = append(m.pushErrs, errs...)
}

// FailPulls schedules errors for upcoming Pull calls, in order.
func (m *MockClient) FailPulls(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pullErrs = append(m.pullErrs, errs...)
}

// Seed injects a remote record directly, bypassing push, as if another
// device had written it.
func (m *MockClient) Seed(rec models.RemoteRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Version == "" {
		m.nextVer++
		rec.Version = fmt.Sprintf("v%d", m.nextVer)
	}
	if rec.ModifiedAt.IsZero() {
		rec.ModifiedAt = time.Now()
	}
	m.records[rec.EntityID] = rec
	m.changes = append(m.changes, rec)
}

// PushedBatches returns every batch received, for assertions.
func (m *MockClient) PushedBatches() [][]*models.PendingOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*models.PendingOperation, len(m.pushedBatches))
	copy(out, m.pushedBatches)
	return out
}

// Record returns the current remote record for an entity.
func (m *MockClient) Record(entityID string) (models.RemoteRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[entityID]
	return rec, ok
}

// SetMetadata overrides the metadata response.
func (m *MockClient) SetMetadata(meta *models.StoreMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = meta
}

// Push applies a batch, assigning new versions. Already-acked operation
// ids return their previous ack unchanged.
func (m *MockClient) Push(ctx context.Context, batch []*models.PendingOperation) ([]models.PushAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindFatal, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pushErrs) > 0 {
		err := m.pushErrs[0]
		m.pushErrs = m.pushErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	cloned := make([]*models.PendingOperation, len(batch))
	for i, op := range batch {
		cloned[i] = op.Clone()
	}
	m.pushedBatches = append(m.pushedBatches, cloned)

	acks := make([]models.PushAck, 0, len(batch))
	for _, op := range batch {
		if ver, ok := m.acked[op.ID]; ok {
			acks = append(acks, models.PushAck{OperationID: op.ID, EntityID: op.EntityID, Version: ver})
			continue
		}

		m.nextVer++
		version := fmt.Sprintf("v%d", m.nextVer)

		rec := models.RemoteRecord{
			EntityID:   op.EntityID,
			EntityType: op.EntityType,
			Version:    version,
			ModifiedAt: time.Now(),
		}
		if op.Kind == models.OpDelete {
			rec.Deleted = true
		} else {
			rec.Fields = op.Payload.Clone()
		}
		m.records[op.EntityID] = rec
		m.changes = append(m.changes, rec)

		m.acked[op.ID] = version
		acks = append(acks, models.PushAck{OperationID: op.ID, EntityID: op.EntityID, Version: version})
	}
	return acks, nil
}

// Pull returns changes after the cursor. Cursors are decimal indexes into
// the change log; empty means from the beginning.
func (m *MockClient) Pull(ctx context.Context, cursor string) (*PullResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindFatal, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pullErrs) > 0 {
		err := m.pullErrs[0]
		m.pullErrs = m.pullErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	start := 0
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "%d", &start); err != nil {
			return nil, &Error{Kind: KindFatal, Message: "bad cursor " + cursor}
		}
	}
	if start > len(m.changes) {
		start = len(m.changes)
	}

	// Collapse to the latest change per entity within the window.
	latest := make(map[string]models.RemoteRecord)
	var order []string
	for _, rec := range m.changes[start:] {
		if _, seen := latest[rec.EntityID]; !seen {
			order = append(order, rec.EntityID)
		}
		latest[rec.EntityID] = rec
	}

	out := make([]models.RemoteRecord, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}

	return &PullResult{
		Changes: out,
		Cursor:  fmt.Sprintf("%d", len(m.changes)),
	}, nil
}

// Metadata returns the scripted metadata.
func (m *MockClient) Metadata(ctx context.Context) (*models.StoreMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := *m.meta
	meta.FetchedAt = time.Now()
	return &meta, nil
}

// Close is a no-op.
func (m *MockClient) Close() error { return nil }
