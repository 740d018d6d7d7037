package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeNetwork    = "NETWORK_ERROR"
	ErrCodeQuota      = "QUOTA_EXCEEDED"
	ErrCodePermission = "PERMISSION_DENIED"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeTransient  = "TRANSIENT_ERROR"
	ErrCodeFatal      = "FATAL_ERROR"
	ErrCodeStorage    = "STORAGE_ERROR"
	ErrCodeCorrupt    = "CORRUPT_RECORD"
	ErrCodeConfig     = "CONFIG_ERROR"
)

// Sentinel errors
var (
	ErrSyncInProgress    = errors.New("sync already in progress")
	ErrStateNotFound     = errors.New("sync state not found")
	ErrConflictNotFound  = errors.New("conflict not found")
	ErrAlreadyResolved   = errors.New("conflict already resolved")
	ErrInvalidResolution = errors.New("invalid resolution")
	ErrQueueClosed       = errors.New("operation queue is closed")
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// CorruptRecordError marks a single unreadable persisted record. The
// offending record is skipped; the process must keep running.
type CorruptRecordError struct {
	Store string
	Key   string
	Err   error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record in %s [%s]: %v", e.Store, e.Key, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

// SyncError provides detailed sync failure information.
type SyncError struct {
	Code     string
	Phase    string
	EntityID string
	Err      error
}

func (e *SyncError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("sync %s [%s]: entity %s: %v", e.Phase, e.Code, e.EntityID, e.Err)
	}
	return fmt.Sprintf("sync %s [%s]: %v", e.Phase, e.Code, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// ResolutionError reports a rejected resolution request, raised
// synchronously before any mutation is applied.
type ResolutionError struct {
	ConflictID    string
	MissingFields []string
	Err           error
}

func (e *ResolutionError) Error() string {
	if len(e.MissingFields) > 0 {
		return fmt.Sprintf("resolution for conflict %s missing explicit values for %v", e.ConflictID, e.MissingFields)
	}
	return fmt.Sprintf("resolution for conflict %s: %v", e.ConflictID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
