package storage

import (
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory ChartStore for testing.
type MockStore struct {
	mu     sync.RWMutex
	charts map[string]*Chart
}

// NewMockStore creates a mock chart store.
func NewMockStore() *MockStore {
	return &MockStore{charts: make(map[string]*Chart)}
}

// Get returns a copy of the chart.
func (m *MockStore) Get(entityID string) (*Chart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chart, ok := m.charts[entityID]
	if !ok {
		return nil, ErrChartNotFound
	}
	out := *chart
	out.Fields = chart.Fields.Clone()
	return &out, nil
}

// Put stores a copy of the chart.
func (m *MockStore) Put(chart *Chart) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *chart
	stored.Fields = chart.Fields.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}
	m.charts[chart.EntityID] = &stored
	return nil
}

// Delete removes the chart.
func (m *MockStore) Delete(entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.charts, entityID)
	return nil
}

// List returns all charts sorted by entity id.
func (m *MockStore) List() ([]*Chart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Chart, 0, len(m.charts))
	for _, chart := range m.charts {
		c := *chart
		c.Fields = chart.Fields.Clone()
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }
