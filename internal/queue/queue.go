// Package queue implements the durable pending-operation queue: ordered,
// coalescing local mutations awaiting push to the remote store.
package queue

import (
	"github.com/chartkit/chartsync/internal/models"
)

// Queue manages pending operations. Enqueue must never block on network;
// all methods are safe for concurrent use. Mutations from the edit path
// and the sync path are serialized internally.
type Queue interface {
	// Enqueue appends a mutation durably, applying the coalescing rules:
	// an update replaces the payload of an earlier pending create/update
	// for the same entity, a delete supersedes all earlier operations,
	// and an update arriving after a pending delete is dropped.
	Enqueue(op *models.PendingOperation) error

	// PeekBatch returns up to maxCount operations in creation order
	// without removing them. Corrupt entries are quarantined and skipped.
	PeekBatch(maxCount int) ([]*models.PendingOperation, error)

	// Acknowledge removes confirmed-pushed operations. Unknown ids are
	// ignored so duplicate acks stay idempotent.
	Acknowledge(ids []string) error

	// MarkFailed increments the attempt count and records the error.
	// Once attempts reach the configured ceiling the operation is removed
	// and returned with permanent=true so the caller can surface it.
	MarkFailed(id string, cause error) (op *models.PendingOperation, permanent bool, err error)

	// PendingFor returns how many operations remain for an entity.
	PendingFor(entityID string) (int, error)

	// DiscardFor removes all pending operations for an entity (used when
	// remote permission is revoked or a keep-remote resolution discards
	// local edits). Returns the number removed.
	DiscardFor(entityID string) (int, error)

	// Depth returns the total number of queued operations.
	Depth() (int, error)

	// Close releases resources.
	Close() error
}
