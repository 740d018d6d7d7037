package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/chartkit/chartsync/internal/models"
)

// Client is the replicated-store collaborator. Transport and
// authentication live behind this boundary; calls may fail and failures
// carry a classification the coordinator acts on.
type Client interface {
	// Push transmits a batch of operations and returns one ack per
	// accepted operation. Pushing an already-acknowledged operation id is
	// a no-op on the server and yields an ack with the current version.
	Push(ctx context.Context, batch []*models.PendingOperation) ([]models.PushAck, error)

	// Pull returns remote changes after the given cursor plus the new
	// cursor. An empty cursor pulls everything.
	Pull(ctx context.Context, cursor string) (*PullResult, error)

	// Metadata fetches container metadata (quota, schema version).
	Metadata(ctx context.Context) (*models.StoreMetadata, error)

	// Close releases resources.
	Close() error
}

// PullResult is one page of remote changes.
type PullResult struct {
	Changes []models.RemoteRecord `json:"changes"`
	Cursor  string                `json:"cursor"`

	// More indicates another page is available at the returned cursor.
	More bool `json:"more"`
}

// ErrorKind classifies remote failures per the coordinator's taxonomy.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network_unavailable"
	KindQuota      ErrorKind = "quota_exceeded"
	KindPermission ErrorKind = "permission_denied"
	KindConflict   ErrorKind = "conflict"
	KindTransient  ErrorKind = "transient"
	KindFatal      ErrorKind = "fatal"
)

// Error is a classified remote-store failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("remote %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure should be retried with backoff
// within the current sync cycle.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindNetwork
}

// KindOf extracts the classification from any error, defaulting to
// transient so unknown failures are retried rather than dropped.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}
	return KindTransient
}
