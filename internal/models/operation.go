package models

import (
	"fmt"
	"strings"
	"time"
)

// OperationKind identifies the mutation type carried by a pending operation.
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// PendingOperation is one durable local mutation awaiting push.
type PendingOperation struct {
	ID         string        `json:"id"`
	EntityType string        `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	Kind       OperationKind `json:"kind"`

	// Payload is the full field snapshot for create/update; empty for delete.
	Payload Fields `json:"payload,omitempty"`

	// BaseVersion is the remote version token observed when the mutation
	// was recorded, used for conflict detection on push.
	BaseVersion string `json:"base_version,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

// Validate checks structural validity before the operation enters the queue.
func (op *PendingOperation) Validate() error {
	if strings.TrimSpace(op.ID) == "" {
		return fmt.Errorf("operation id is required")
	}
	if strings.TrimSpace(op.EntityID) == "" {
		return fmt.Errorf("entity id is required")
	}
	switch op.Kind {
	case OpCreate, OpUpdate:
		if len(op.Payload) == 0 {
			return fmt.Errorf("%s operation requires a payload", op.Kind)
		}
	case OpDelete:
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	return nil
}

// Clone returns a deep copy.
func (op *PendingOperation) Clone() *PendingOperation {
	out := *op
	out.Payload = op.Payload.Clone()
	return &out
}
