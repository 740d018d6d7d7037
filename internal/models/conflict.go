package models

import (
	"time"
)

// ConflictPriority orders conflicts for presentation.
type ConflictPriority string

const (
	PriorityHigh   ConflictPriority = "high"
	PriorityMedium ConflictPriority = "medium"
	PriorityLow    ConflictPriority = "low"
)

// ConflictStatus is the lifecycle state of a conflict record.
type ConflictStatus string

const (
	ConflictUnresolved   ConflictStatus = "unresolved"
	ConflictAutoResolved ConflictStatus = "auto_resolved"
	ConflictUserResolved ConflictStatus = "user_resolved"
	ConflictSkipped      ConflictStatus = "skipped"
)

// Terminal reports whether the status is final.
func (s ConflictStatus) Terminal() bool {
	return s != ConflictUnresolved
}

// FieldChange records a single diverging field.
type FieldChange struct {
	Name   string `json:"name"`
	Base   string `json:"base,omitempty"`
	Local  string `json:"local,omitempty"`
	Remote string `json:"remote,omitempty"`

	// Overlap is true when both sides changed the field from base.
	Overlap bool `json:"overlap"`
}

// SyncConflict is a detected divergence between local and remote state.
type SyncConflict struct {
	ID         string `json:"id"`
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`

	Base   Fields `json:"base"`
	Local  Fields `json:"local"`
	Remote Fields `json:"remote"`

	// RemoteDeleted marks the entity as deleted remotely while dirty
	// locally; resolution is recreate-vs-discard, not a field merge.
	RemoteDeleted bool   `json:"remote_deleted"`
	RemoteVersion string `json:"remote_version"`

	Diff       []FieldChange    `json:"diff"`
	Priority   ConflictPriority `json:"priority"`
	Status     ConflictStatus   `json:"status"`
	DetectedAt time.Time        `json:"detected_at"`
	ResolvedAt time.Time        `json:"resolved_at,omitzero"`
}

// OverlappingFields returns the names of fields changed on both sides.
func (c *SyncConflict) OverlappingFields() []string {
	var names []string
	for _, ch := range c.Diff {
		if ch.Overlap {
			names = append(names, ch.Name)
		}
	}
	return names
}

// ResolutionStrategy selects how a user resolution is applied.
type ResolutionStrategy string

const (
	ResolveKeepLocal  ResolutionStrategy = "keep_local"
	ResolveKeepRemote ResolutionStrategy = "keep_remote"
	ResolveKeepBoth   ResolutionStrategy = "keep_both"
	ResolveMerge      ResolutionStrategy = "merge"
)
