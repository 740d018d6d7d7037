package models

import (
	"fmt"
	"strings"
	"time"
)

// SyncState tracks replication metadata for a single entity.
type SyncState struct {
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`

	// LocalModifiedAt is the timestamp of the newest local mutation.
	LocalModifiedAt time.Time `json:"local_modified_at"`

	// RemoteVersion is the last-known remote version token.
	RemoteVersion string `json:"remote_version,omitempty"`

	// Dirty is true while at least one pending operation exists for the
	// entity; false means local and remote were reconciled at last sync.
	Dirty bool `json:"dirty"`

	// RemoteRef is an opaque reference to the remote record.
	RemoteRef string `json:"remote_ref,omitempty"`

	// BaseSnapshot is the entity's field state as of the last successful
	// sync. Three-way conflict classification diffs against it.
	BaseSnapshot Fields `json:"base_snapshot,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewSyncState creates state for an entity seen for the first time.
func NewSyncState(entityID, entityType string) *SyncState {
	return &SyncState{
		EntityID:     entityID,
		EntityType:   entityType,
		BaseSnapshot: Fields{},
	}
}

// MarkSynced records a successful reconciliation at the given remote version.
func (s *SyncState) MarkSynced(remoteVersion string, snapshot Fields, at time.Time) {
	s.RemoteVersion = remoteVersion
	s.BaseSnapshot = snapshot.Clone()
	if s.BaseSnapshot == nil {
		s.BaseSnapshot = Fields{}
	}
	s.Dirty = false
	s.UpdatedAt = at
}

// MarkDirty records a local mutation awaiting push.
func (s *SyncState) MarkDirty(at time.Time) {
	s.Dirty = true
	s.LocalModifiedAt = at
	s.UpdatedAt = at
}

// Validate checks structural validity.
func (s *SyncState) Validate() error {
	if strings.TrimSpace(s.EntityID) == "" {
		return fmt.Errorf("entity id is required")
	}
	if s.BaseSnapshot == nil {
		return fmt.Errorf("base snapshot cannot be nil")
	}
	return nil
}

// Clone returns a deep copy.
func (s *SyncState) Clone() *SyncState {
	out := *s
	out.BaseSnapshot = s.BaseSnapshot.Clone()
	return &out
}
