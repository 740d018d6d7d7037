package state

import (
	"sync"

	"github.com/chartkit/chartsync/internal/models"
)

// MockStore provides an in-memory Store for testing.
type MockStore struct {
	mu     sync.RWMutex
	states map[string]*models.SyncState
}

// NewMockStore creates a mock state store.
func NewMockStore() *MockStore {
	return &MockStore{states: make(map[string]*models.SyncState)}
}

// Load returns a copy of the stored state.
func (m *MockStore) Load(entityID string) (*models.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if st, ok := m.states[entityID]; ok {
		return st.Clone(), nil
	}
	return nil, models.ErrStateNotFound
}

// Save stores a copy of the state.
func (m *MockStore) Save(state *models.SyncState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.EntityID] = state.Clone()
	return nil
}

// Delete removes state for an entity.
func (m *MockStore) Delete(entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, entityID)
	return nil
}

// ListDirty returns dirty entity ids.
func (m *MockStore) ListDirty() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, st := range m.states {
		if st.Dirty {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Count returns the number of tracked entities.
func (m *MockStore) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states), nil
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }
