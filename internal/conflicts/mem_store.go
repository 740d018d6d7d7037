package conflicts

import (
	"sync"
	"time"

	"github.com/chartkit/chartsync/internal/models"
)

// MemStore is an in-memory conflict Store for tests.
type MemStore struct {
	mu        sync.Mutex
	conflicts map[string]*models.SyncConflict
}

// NewMemStore creates an in-memory conflict store.
func NewMemStore() *MemStore {
	return &MemStore{conflicts: make(map[string]*models.SyncConflict)}
}

// Create enforces one unresolved conflict per entity.
func (m *MemStore) Create(conflict *models.SyncConflict) (*models.SyncConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.conflicts {
		if existing.EntityID != conflict.EntityID || existing.Status.Terminal() {
			continue
		}
		if existing.RemoteVersion == conflict.RemoteVersion {
			return clone(existing), nil
		}
		existing.Status = models.ConflictSkipped
		existing.ResolvedAt = conflict.DetectedAt
	}
	m.conflicts[conflict.ID] = clone(conflict)
	return conflict, nil
}

// Get returns a conflict by id.
func (m *MemStore) Get(id string) (*models.SyncConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conflicts[id]; ok {
		return clone(c), nil
	}
	return nil, models.ErrConflictNotFound
}

// GetUnresolved returns the live conflict for an entity.
func (m *MemStore) GetUnresolved(entityID string) (*models.SyncConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.conflicts {
		if c.EntityID == entityID && !c.Status.Terminal() {
			return clone(c), nil
		}
	}
	return nil, models.ErrConflictNotFound
}

// Resolve transitions to a terminal status.
func (m *MemStore) Resolve(id string, status models.ConflictStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conflicts[id]
	if !ok {
		return models.ErrConflictNotFound
	}
	if c.Status.Terminal() {
		return models.ErrAlreadyResolved
	}
	c.Status = status
	c.ResolvedAt = at
	return nil
}

// ListUnresolved returns live conflicts.
func (m *MemStore) ListUnresolved() ([]*models.SyncConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.SyncConflict
	for _, c := range m.conflicts {
		if !c.Status.Terminal() {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *MemStore) Close() error { return nil }

func clone(c *models.SyncConflict) *models.SyncConflict {
	out := *c
	out.Base = c.Base.Clone()
	out.Local = c.Local.Clone()
	out.Remote = c.Remote.Clone()
	out.Diff = append([]models.FieldChange(nil), c.Diff...)
	return &out
}
