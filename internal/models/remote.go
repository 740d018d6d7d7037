package models

import "time"

// RemoteRecord is one entity change pulled from the replicated store.
type RemoteRecord struct {
	EntityID   string    `json:"entity_id"`
	EntityType string    `json:"entity_type"`
	Version    string    `json:"version"`
	Fields     Fields    `json:"fields,omitempty"`
	Deleted    bool      `json:"deleted"`
	ModifiedAt time.Time `json:"modified_at"`
}

// PushAck confirms the remote store accepted one operation.
type PushAck struct {
	OperationID string `json:"operation_id"`
	EntityID    string `json:"entity_id"`

	// Version is the remote version token assigned to the pushed state.
	Version string `json:"version"`
}

// StoreMetadata is remote container metadata, cached between syncs.
type StoreMetadata struct {
	SchemaVersion int       `json:"schema_version"`
	QuotaUsed     int64     `json:"quota_used"`
	QuotaLimit    int64     `json:"quota_limit"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// QuotaExhausted reports whether the container is out of space.
func (m *StoreMetadata) QuotaExhausted() bool {
	return m.QuotaLimit > 0 && m.QuotaUsed >= m.QuotaLimit
}
