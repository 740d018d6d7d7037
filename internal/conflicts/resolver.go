package conflicts

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
	"github.com/chartkit/chartsync/internal/queue"
	"github.com/chartkit/chartsync/internal/state"
	"github.com/chartkit/chartsync/internal/storage"
)

// Snapshotter is the rollback hook taken before destructive resolutions.
type Snapshotter interface {
	CreateSnapshot() (string, error)
}

// ResolvedEntity is the outcome of a resolution.
type ResolvedEntity struct {
	EntityID string
	Fields   models.Fields

	// Deleted means the entity no longer exists locally after resolution.
	Deleted bool

	// DuplicateEntityID is set by keep-both: the new entity carrying the
	// local payload.
	DuplicateEntityID string

	Strategy models.ResolutionStrategy

	// AlreadyResolved reports a no-op against a terminal conflict.
	AlreadyResolved bool
}

// ResolutionAuto marks the automatic disjoint-field merge.
const ResolutionAuto models.ResolutionStrategy = "auto"

// Resolver applies conflict resolutions and their side effects: closing
// the conflict, updating sync state, writing the local chart, and
// enqueueing the follow-up push.
type Resolver struct {
	conflicts Store
	queue     queue.Queue
	states    state.Store
	charts    storage.ChartStore
	backups   Snapshotter
	bus       *events.Bus
	logger    *events.Logger

	now   func() time.Time
	newID func() string
}

// NewResolver creates a conflict resolver.
func NewResolver(
	conflictStore Store,
	opQueue queue.Queue,
	stateStore state.Store,
	chartStore storage.ChartStore,
	backups Snapshotter,
	bus *events.Bus,
	logger *events.Logger,
) *Resolver {
	return &Resolver{
		conflicts: conflictStore,
		queue:     opQueue,
		states:    stateStore,
		charts:    chartStore,
		backups:   backups,
		bus:       bus,
		logger:    logger.WithField("component", "conflict_resolver"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// AutoResolve performs the deterministic disjoint-field merge. Valid only
// for conflicts without overlapping changes and without a remote delete.
func (r *Resolver) AutoResolve(conflictID string) (*ResolvedEntity, error) {
	conflict, done, err := r.load(conflictID)
	if err != nil || done != nil {
		return done, err
	}

	if conflict.RemoteDeleted {
		return nil, &models.ResolutionError{ConflictID: conflictID, Err: fmt.Errorf("%w: remote-deleted conflict requires a decision", models.ErrInvalidResolution)}
	}
	if overlap := conflict.OverlappingFields(); len(overlap) > 0 {
		return nil, &models.ResolutionError{ConflictID: conflictID, Err: fmt.Errorf("%w: overlapping fields %v require a decision", models.ErrInvalidResolution, overlap)}
	}

	merged := autoMerge(conflict)
	if err := r.applyLocalState(conflict, merged); err != nil {
		return nil, err
	}
	if err := r.close(conflict, models.ConflictAutoResolved); err != nil {
		return nil, err
	}

	r.logger.WithFields(map[string]interface{}{
		"conflict_id": conflict.ID,
		"entity_id":   conflict.EntityID,
	}).Info("Conflict auto-resolved")

	return &ResolvedEntity{
		EntityID: conflict.EntityID,
		Fields:   merged,
		Strategy: ResolutionAuto,
	}, nil
}

// ApplyUserResolution applies an explicit strategy. mergeValues is
// required only for ResolveMerge and must cover every overlapping field.
func (r *Resolver) ApplyUserResolution(conflictID string, strategy models.ResolutionStrategy, mergeValues models.Fields) (*ResolvedEntity, error) {
	conflict, done, err := r.load(conflictID)
	if err != nil || done != nil {
		return done, err
	}

	switch strategy {
	case models.ResolveKeepLocal:
		return r.keepLocal(conflict)
	case models.ResolveKeepRemote:
		return r.keepRemote(conflict)
	case models.ResolveKeepBoth:
		return r.keepBoth(conflict)
	case models.ResolveMerge:
		return r.merge(conflict, mergeValues)
	default:
		return nil, &models.ResolutionError{ConflictID: conflictID, Err: fmt.Errorf("%w: unknown strategy %q", models.ErrInvalidResolution, strategy)}
	}
}

// keepLocal discards the remote snapshot and re-pushes the local payload.
func (r *Resolver) keepLocal(conflict *models.SyncConflict) (*ResolvedEntity, error) {
	if err := r.applyLocalState(conflict, conflict.Local); err != nil {
		return nil, err
	}
	if err := r.close(conflict, models.ConflictUserResolved); err != nil {
		return nil, err
	}
	return &ResolvedEntity{
		EntityID: conflict.EntityID,
		Fields:   conflict.Local.Clone(),
		Strategy: models.ResolveKeepLocal,
	}, nil
}

// keepRemote discards local pending work and adopts the remote version.
// Local data is about to be lost, so a snapshot is taken first.
func (r *Resolver) keepRemote(conflict *models.SyncConflict) (*ResolvedEntity, error) {
	if err := r.snapshotBefore(conflict, models.ResolveKeepRemote); err != nil {
		return nil, err
	}
	if _, err := r.queue.DiscardFor(conflict.EntityID); err != nil {
		return nil, fmt.Errorf("discard pending operations: %w", err)
	}

	result := &ResolvedEntity{
		EntityID: conflict.EntityID,
		Strategy: models.ResolveKeepRemote,
	}

	if conflict.RemoteDeleted {
		if err := r.charts.Delete(conflict.EntityID); err != nil {
			return nil, fmt.Errorf("delete local chart: %w", err)
		}
		if err := r.states.Delete(conflict.EntityID); err != nil {
			return nil, fmt.Errorf("delete sync state: %w", err)
		}
		result.Deleted = true
		r.bus.Publish(events.SubjectDeleted{SubjectID: conflict.EntityID})
	} else {
		if err := r.charts.Put(&storage.Chart{
			EntityID:   conflict.EntityID,
			EntityType: conflict.EntityType,
			Fields:     conflict.Remote.Clone(),
		}); err != nil {
			return nil, fmt.Errorf("write local chart: %w", err)
		}
		st := r.loadOrCreateState(conflict)
		st.MarkSynced(conflict.RemoteVersion, conflict.Remote, r.now())
		if err := r.states.Save(st); err != nil {
			return nil, fmt.Errorf("save sync state: %w", err)
		}
		result.Fields = conflict.Remote.Clone()
	}

	if err := r.close(conflict, models.ConflictUserResolved); err != nil {
		return nil, err
	}
	return result, nil
}

// keepBoth adopts the remote version for the original entity and spawns a
// duplicate carrying the local payload, marked so consumers can tell the
// copies apart.
func (r *Resolver) keepBoth(conflict *models.SyncConflict) (*ResolvedEntity, error) {
	if err := r.snapshotBefore(conflict, models.ResolveKeepBoth); err != nil {
		return nil, err
	}
	if _, err := r.queue.DiscardFor(conflict.EntityID); err != nil {
		return nil, fmt.Errorf("discard pending operations: %w", err)
	}

	dupID := r.newID()
	dupFields := conflict.Local.Clone()
	if dupFields == nil {
		dupFields = models.Fields{}
	}
	dupFields["duplicate_of"] = conflict.EntityID
	if title, ok := dupFields["title"]; ok {
		dupFields["title"] = title + " (conflicted copy)"
	}

	if err := r.charts.Put(&storage.Chart{
		EntityID:   dupID,
		EntityType: conflict.EntityType,
		Fields:     dupFields,
	}); err != nil {
		return nil, fmt.Errorf("write duplicate chart: %w", err)
	}

	dupState := models.NewSyncState(dupID, conflict.EntityType)
	dupState.MarkDirty(r.now())
	if err := r.states.Save(dupState); err != nil {
		return nil, fmt.Errorf("save duplicate state: %w", err)
	}

	if err := r.queue.Enqueue(&models.PendingOperation{
		ID:         r.newID(),
		EntityType: conflict.EntityType,
		EntityID:   dupID,
		Kind:       models.OpCreate,
		Payload:    dupFields,
		CreatedAt:  r.now(),
	}); err != nil {
		return nil, fmt.Errorf("enqueue duplicate create: %w", err)
	}

	// The original entity takes the remote version.
	result := &ResolvedEntity{
		EntityID:          conflict.EntityID,
		DuplicateEntityID: dupID,
		Strategy:          models.ResolveKeepBoth,
	}
	if conflict.RemoteDeleted {
		if err := r.charts.Delete(conflict.EntityID); err != nil {
			return nil, fmt.Errorf("delete local chart: %w", err)
		}
		if err := r.states.Delete(conflict.EntityID); err != nil {
			return nil, fmt.Errorf("delete sync state: %w", err)
		}
		result.Deleted = true
	} else {
		if err := r.charts.Put(&storage.Chart{
			EntityID:   conflict.EntityID,
			EntityType: conflict.EntityType,
			Fields:     conflict.Remote.Clone(),
		}); err != nil {
			return nil, fmt.Errorf("write local chart: %w", err)
		}
		st := r.loadOrCreateState(conflict)
		st.MarkSynced(conflict.RemoteVersion, conflict.Remote, r.now())
		if err := r.states.Save(st); err != nil {
			return nil, fmt.Errorf("save sync state: %w", err)
		}
		result.Fields = conflict.Remote.Clone()
	}

	if err := r.close(conflict, models.ConflictUserResolved); err != nil {
		return nil, err
	}
	return result, nil
}

// merge applies caller-supplied values for the overlapping fields on top
// of the automatic merge of the disjoint ones.
func (r *Resolver) merge(conflict *models.SyncConflict, values models.Fields) (*ResolvedEntity, error) {
	if conflict.RemoteDeleted {
		return nil, &models.ResolutionError{ConflictID: conflict.ID, Err: fmt.Errorf("%w: cannot field-merge a remote-deleted entity", models.ErrInvalidResolution)}
	}

	var missing []string
	for _, name := range conflict.OverlappingFields() {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		// Rejected before any mutation is applied.
		return nil, &models.ResolutionError{ConflictID: conflict.ID, MissingFields: missing, Err: models.ErrInvalidResolution}
	}

	merged := autoMerge(conflict)
	for name, value := range values {
		merged[name] = value
	}

	if err := r.applyLocalState(conflict, merged); err != nil {
		return nil, err
	}
	if err := r.close(conflict, models.ConflictUserResolved); err != nil {
		return nil, err
	}
	return &ResolvedEntity{
		EntityID: conflict.EntityID,
		Fields:   merged,
		Strategy: models.ResolveMerge,
	}, nil
}

// load fetches the conflict, short-circuiting terminal ones as a no-op.
func (r *Resolver) load(conflictID string) (*models.SyncConflict, *ResolvedEntity, error) {
	conflict, err := r.conflicts.Get(conflictID)
	if err != nil {
		return nil, nil, err
	}
	if conflict.Status.Terminal() {
		r.logger.WithField("conflict_id", conflictID).Debug("Conflict already resolved")
		return nil, &ResolvedEntity{EntityID: conflict.EntityID, AlreadyResolved: true}, nil
	}
	return conflict, nil, nil
}

// applyLocalState writes the resolved fields locally, marks the entity
// dirty and enqueues the follow-up push.
func (r *Resolver) applyLocalState(conflict *models.SyncConflict, resolved models.Fields) error {
	if err := r.charts.Put(&storage.Chart{
		EntityID:   conflict.EntityID,
		EntityType: conflict.EntityType,
		Fields:     resolved.Clone(),
	}); err != nil {
		return fmt.Errorf("write resolved chart: %w", err)
	}

	st := r.loadOrCreateState(conflict)
	// Remember the remote content we resolved against so the next pull
	// diffs from the right base.
	st.RemoteVersion = conflict.RemoteVersion
	st.BaseSnapshot = conflict.Remote.Clone()
	if st.BaseSnapshot == nil {
		st.BaseSnapshot = models.Fields{}
	}
	st.MarkDirty(r.now())
	if err := r.states.Save(st); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}

	kind := models.OpUpdate
	if conflict.RemoteDeleted {
		kind = models.OpCreate
	}
	if err := r.queue.Enqueue(&models.PendingOperation{
		ID:          r.newID(),
		EntityType:  conflict.EntityType,
		EntityID:    conflict.EntityID,
		Kind:        kind,
		Payload:     resolved.Clone(),
		BaseVersion: conflict.RemoteVersion,
		CreatedAt:   r.now(),
	}); err != nil {
		return fmt.Errorf("enqueue resolved push: %w", err)
	}
	return nil
}

func (r *Resolver) loadOrCreateState(conflict *models.SyncConflict) *models.SyncState {
	st, err := r.states.Load(conflict.EntityID)
	if err != nil {
		if !errors.Is(err, models.ErrStateNotFound) {
			r.logger.WithError(err).Warn("Failed to load sync state, recreating")
		}
		return models.NewSyncState(conflict.EntityID, conflict.EntityType)
	}
	return st
}

// snapshotBefore guards destructive resolutions with a rollback point.
func (r *Resolver) snapshotBefore(conflict *models.SyncConflict, strategy models.ResolutionStrategy) error {
	if r.backups == nil {
		return nil
	}
	id, err := r.backups.CreateSnapshot()
	if err != nil {
		return fmt.Errorf("snapshot before %s: %w", strategy, err)
	}
	r.logger.WithFields(map[string]interface{}{
		"conflict_id": conflict.ID,
		"snapshot":    id,
		"strategy":    string(strategy),
	}).Info("Snapshot taken before destructive resolution")
	return nil
}

func (r *Resolver) close(conflict *models.SyncConflict, status models.ConflictStatus) error {
	if err := r.conflicts.Resolve(conflict.ID, status, r.now()); err != nil {
		return fmt.Errorf("close conflict: %w", err)
	}
	return nil
}

// autoMerge merges disjoint changes deterministically: local values for
// locally-changed fields, remote values for remotely-changed fields,
// baseline otherwise. Fields are applied in alphabetical order so the
// result is reproducible.
func autoMerge(conflict *models.SyncConflict) models.Fields {
	base := conflict.Base
	if base == nil {
		base = models.Fields{}
	}

	localChanged := toSet(conflict.Local.ChangedFrom(base))
	remoteChanged := toSet(conflict.Remote.ChangedFrom(base))

	merged := base.Clone()
	if merged == nil {
		merged = models.Fields{}
	}

	union := make(map[string]struct{})
	for name := range localChanged {
		union[name] = struct{}{}
	}
	for name := range remoteChanged {
		union[name] = struct{}{}
	}
	names := make([]string, 0, len(union))
	for name := range union {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := remoteChanged[name]; ok {
			applyField(merged, conflict.Remote, name)
		}
		if _, ok := localChanged[name]; ok {
			applyField(merged, conflict.Local, name)
		}
	}
	return merged
}

// applyField copies one field from src, treating absence as deletion.
func applyField(dst, src models.Fields, name string) {
	if value, ok := src[name]; ok {
		dst[name] = value
	} else {
		delete(dst, name)
	}
}
