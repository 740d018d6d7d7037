// Package state persists per-entity replication metadata.
package state

import (
	"github.com/chartkit/chartsync/internal/models"
)

// Store manages SyncState persistence, one record per entity id. The
// coordinator is the only writer; status surfaces read snapshots.
type Store interface {
	// Load retrieves the state for an entity, or
	// models.ErrStateNotFound.
	Load(entityID string) (*models.SyncState, error)

	// Save upserts the state for an entity.
	Save(state *models.SyncState) error

	// Delete removes state for an entity that no longer exists anywhere.
	Delete(entityID string) error

	// ListDirty returns entity ids with unpushed local mutations.
	ListDirty() ([]string, error)

	// Count returns the number of tracked entities.
	Count() (int, error)

	// Close releases resources.
	Close() error
}
