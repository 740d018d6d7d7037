// Package sync orchestrates full, incremental and background sync cycles
// between the local chart library and the replicated remote store.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/chartkit/chartsync/internal/conflicts"
	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
	"github.com/chartkit/chartsync/internal/queue"
	"github.com/chartkit/chartsync/internal/remote"
	"github.com/chartkit/chartsync/internal/state"
	"github.com/chartkit/chartsync/internal/storage"
)

// Phase is the coordinator's externally visible state.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePushing Phase = "pushing"
	PhasePulling Phase = "pulling"
	PhasePaused  Phase = "paused"
	PhaseError   Phase = "error"
)

// Status is a point-in-time snapshot of sync progress.
type Status struct {
	Phase        Phase     `json:"phase"`
	LastSyncedAt time.Time `json:"last_synced_at,omitzero"`
	LastError    string    `json:"last_error,omitempty"`

	PendingOperations   int `json:"pending_operations"`
	UnresolvedConflicts int `json:"unresolved_conflicts"`

	QuotaUsed  int64 `json:"quota_used,omitempty"`
	QuotaLimit int64 `json:"quota_limit,omitempty"`
}

// Options tune a coordinator. Zero values fall back to safe defaults.
type Options struct {
	BatchSize        int
	RetryDelays      []time.Duration
	MetadataTTL      time.Duration
	BackgroundBudget time.Duration
}

func (o *Options) fillDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if len(o.RetryDelays) == 0 {
		o.RetryDelays = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}
	}
	if o.MetadataTTL <= 0 {
		o.MetadataTTL = 5 * time.Minute
	}
	if o.BackgroundBudget <= 0 {
		o.BackgroundBudget = 25 * time.Second
	}
}

// Coordinator runs sync cycles. At most one cycle runs at a time; a sync
// request arriving mid-cycle is coalesced into one rerun after the
// current cycle finishes.
type Coordinator struct {
	queue     queue.Queue
	states    state.Store
	charts    storage.ChartStore
	remote    remote.Client
	detector  *conflicts.Detector
	resolver  *conflicts.Resolver
	conflicts conflicts.Store
	cursor    CursorStore
	bus       *events.Bus
	logger    *events.Logger
	opts      Options

	now func() time.Time

	mu      gosync.Mutex
	running bool
	rerun   bool
	status  Status

	metaMu    gosync.Mutex
	meta      *models.StoreMetadata
	metaStale bool
	snapshots conflicts.Snapshotter
}

// NewCoordinator wires a sync coordinator.
func NewCoordinator(
	opQueue queue.Queue,
	stateStore state.Store,
	chartStore storage.ChartStore,
	client remote.Client,
	detector *conflicts.Detector,
	resolver *conflicts.Resolver,
	conflictStore conflicts.Store,
	cursor CursorStore,
	bus *events.Bus,
	logger *events.Logger,
	opts Options,
) *Coordinator {
	opts.fillDefaults()
	return &Coordinator{
		queue:     opQueue,
		states:    stateStore,
		charts:    chartStore,
		remote:    client,
		detector:  detector,
		resolver:  resolver,
		conflicts: conflictStore,
		cursor:    cursor,
		bus:       bus,
		logger:    logger.WithField("component", "sync_coordinator"),
		opts:      opts,
		now:       time.Now,
		status:    Status{Phase: PhaseIdle},
	}
}

// SetSnapshotter installs a backup hook invoked before the coordinator
// adopts a changed remote schema version.
func (c *Coordinator) SetSnapshotter(s conflicts.Snapshotter) {
	c.snapshots = s
}

// PerformFullSync ignores the stored cursor and reconciles everything.
func (c *Coordinator) PerformFullSync(ctx context.Context) error {
	return c.run(ctx, true)
}

// PerformIncrementalSync resumes from the stored cursor.
func (c *Coordinator) PerformIncrementalSync(ctx context.Context) error {
	return c.run(ctx, false)
}

// PerformBackgroundSync runs an incremental cycle under the background
// execution budget. Work not completed within the budget stays queued;
// operations are only removed after the server acknowledged them, so an
// interrupted cycle loses nothing.
func (c *Coordinator) PerformBackgroundSync(ctx context.Context) error {
	budgeted, cancel := context.WithTimeout(ctx, c.opts.BackgroundBudget)
	defer cancel()
	err := c.run(budgeted, false)
	if errors.Is(err, context.DeadlineExceeded) {
		c.logger.Info("Background budget exhausted, progress preserved")
		return nil
	}
	return err
}

// run is the single-flight entry. A second caller gets ErrSyncInProgress
// immediately and the in-flight cycle reruns once more when it finishes.
func (c *Coordinator) run(ctx context.Context, full bool) error {
	c.mu.Lock()
	if c.running {
		c.rerun = true
		c.mu.Unlock()
		return models.ErrSyncInProgress
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.rerun = false
		c.mu.Unlock()
	}()

	for {
		err := c.cycle(ctx, full)

		c.mu.Lock()
		again := c.rerun && err == nil && ctx.Err() == nil
		c.rerun = false
		c.mu.Unlock()

		if !again {
			return err
		}
		// Coalesced rerun picks up edits made during the cycle.
		full = false
	}
}

func (c *Coordinator) cycle(ctx context.Context, full bool) error {
	start := c.now()
	c.logger.WithField("full", full).Info("Sync cycle started")

	if meta, err := c.Metadata(ctx); err != nil {
		c.logger.WithError(err).Warn("Metadata fetch failed, continuing cycle")
	} else if meta.QuotaExhausted() {
		c.setPhase(PhasePaused, "remote quota exhausted")
		return &models.SyncError{Code: models.ErrCodeQuota, Phase: "metadata", Err: errors.New("remote quota exhausted")}
	}

	c.setPhase(PhasePushing, "")
	if err := c.pushPhase(ctx); err != nil {
		c.setPhase(PhaseError, err.Error())
		return err
	}

	c.setPhase(PhasePulling, "")
	cursor, err := c.pullPhase(ctx, full)
	if err != nil {
		c.setPhase(PhaseError, err.Error())
		return err
	}

	// The cursor only advances once both phases completed, so a failed
	// cycle re-pulls instead of skipping remote changes.
	if err := c.cursor.Save(cursor); err != nil {
		c.setPhase(PhaseError, err.Error())
		return fmt.Errorf("persist cursor: %w", err)
	}

	c.mu.Lock()
	c.status.Phase = PhaseIdle
	c.status.LastError = ""
	c.status.LastSyncedAt = c.now()
	snapshot := c.status
	c.mu.Unlock()
	c.bus.Publish(events.SyncStatusChanged{Status: string(snapshot.Phase), LastSyncedAt: snapshot.LastSyncedAt})

	c.logger.WithField("duration", c.now().Sub(start).String()).Info("Sync cycle completed")
	return nil
}

// pushPhase drains the pending queue in batches. Transient failures are
// retried with backoff inside the cycle; exhausting the retries counts
// one attempt against every operation in the batch and fails the cycle
// with the operations still queued.
func (c *Coordinator) pushPhase(ctx context.Context) error {
	for {
		batch, err := c.queue.PeekBatch(c.opts.BatchSize)
		if err != nil {
			return fmt.Errorf("peek batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		acks, err := c.pushWithRetry(ctx, batch)
		if err != nil {
			// An expired budget or caller cancellation is not a server
			// failure. The batch stays queued with no attempt charged.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch remote.KindOf(err) {
			case remote.KindPermission:
				if err := c.isolatePermissionFailures(ctx, batch); err != nil {
					return err
				}
				continue
			case remote.KindQuota:
				c.invalidateMetadata()
				c.setPhase(PhasePaused, "remote quota exhausted")
				return &models.SyncError{Code: models.ErrCodeQuota, Phase: "push", Err: err}
			case remote.KindConflict:
				// Stale base version. The pull phase will classify the
				// divergence; leave the batch queued.
				c.logger.WithError(err).Info("Push rejected as conflicting, deferring to pull")
				return nil
			default:
				c.recordBatchFailure(batch, err)
				return &models.SyncError{Code: models.ErrCodeNetwork, Phase: "push", Err: err}
			}
		}

		if err := c.applyAcks(batch, acks); err != nil {
			return err
		}
	}
}

func (c *Coordinator) pushWithRetry(ctx context.Context, batch []*models.PendingOperation) ([]models.PushAck, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		acks, err := c.remote.Push(ctx, batch)
		if err == nil {
			return acks, nil
		}
		lastErr = err

		var re *remote.Error
		retryable := errors.As(err, &re) && re.Retryable()
		if !retryable || attempt >= len(c.opts.RetryDelays) {
			return nil, lastErr
		}

		delay := c.opts.RetryDelays[attempt]
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Warn("Push failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// applyAcks removes confirmed operations and reconciles per-entity state.
func (c *Coordinator) applyAcks(batch []*models.PendingOperation, acks []models.PushAck) error {
	byOpID := make(map[string]*models.PendingOperation, len(batch))
	for _, op := range batch {
		byOpID[op.ID] = op
	}

	ids := make([]string, 0, len(acks))
	for _, ack := range acks {
		ids = append(ids, ack.OperationID)
	}
	if err := c.queue.Acknowledge(ids); err != nil {
		return fmt.Errorf("acknowledge batch: %w", err)
	}

	for _, ack := range acks {
		op, ok := byOpID[ack.OperationID]
		if !ok {
			continue
		}
		if err := c.reconcileAfterPush(op, ack); err != nil {
			c.logger.WithError(err).WithField("entity_id", op.EntityID).Error("State reconcile after push failed")
			return err
		}
	}
	return nil
}

func (c *Coordinator) reconcileAfterPush(op *models.PendingOperation, ack models.PushAck) error {
	if op.Kind == models.OpDelete {
		if err := c.states.Delete(op.EntityID); err != nil {
			return fmt.Errorf("delete state: %w", err)
		}
		return nil
	}

	st, err := c.states.Load(op.EntityID)
	if err != nil {
		if !errors.Is(err, models.ErrStateNotFound) {
			return fmt.Errorf("load state: %w", err)
		}
		st = models.NewSyncState(op.EntityID, op.EntityType)
	}

	remaining, err := c.queue.PendingFor(op.EntityID)
	if err != nil {
		return fmt.Errorf("pending count: %w", err)
	}

	if remaining == 0 {
		st.MarkSynced(ack.Version, op.Payload, c.now())
	} else {
		// Later edits are still queued; record the acknowledged version
		// as the new base but keep the entity dirty.
		st.RemoteVersion = ack.Version
		st.BaseSnapshot = op.Payload.Clone()
		st.UpdatedAt = c.now()
	}
	if err := c.states.Save(st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// isolatePermissionFailures re-pushes a permission-rejected batch one
// entity at a time. The rejection is batch-granular, so only entities
// that individually fail with permission denied lose their pending
// operations; the rest push through.
func (c *Coordinator) isolatePermissionFailures(ctx context.Context, batch []*models.PendingOperation) error {
	var order []string
	byEntity := make(map[string][]*models.PendingOperation)
	for _, op := range batch {
		if _, ok := byEntity[op.EntityID]; !ok {
			order = append(order, op.EntityID)
		}
		byEntity[op.EntityID] = append(byEntity[op.EntityID], op)
	}

	for _, entityID := range order {
		ops := byEntity[entityID]
		acks, err := c.remote.Push(ctx, ops)
		if err == nil {
			if err := c.applyAcks(ops, acks); err != nil {
				return err
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if remote.KindOf(err) == remote.KindPermission {
			c.discardEntity(entityID, err)
			continue
		}
		return &models.SyncError{Code: models.ErrCodeNetwork, Phase: "push", Err: err}
	}
	return nil
}

// discardEntity drops an entity's pending operations after the server
// refused them on permission grounds.
func (c *Coordinator) discardEntity(entityID string, cause error) {
	n, err := c.queue.DiscardFor(entityID)
	if err != nil {
		c.logger.WithError(err).WithField("entity_id", entityID).Error("Discard after permission failure failed")
		return
	}
	c.logger.WithFields(map[string]interface{}{
		"entity_id": entityID,
		"discarded": n,
		"cause":     cause.Error(),
	}).Warn("Permission revoked, pending operations discarded")
	c.bus.Publish(events.PermissionsChanged{SubjectID: entityID})
}

// recordBatchFailure charges one failed attempt to every operation in the
// batch. Operations that hit the ceiling are removed and surfaced.
func (c *Coordinator) recordBatchFailure(batch []*models.PendingOperation, cause error) {
	for _, op := range batch {
		failed, permanent, err := c.queue.MarkFailed(op.ID, cause)
		if err != nil {
			c.logger.WithError(err).WithField("operation_id", op.ID).Error("Failed to record push failure")
			continue
		}
		if permanent {
			c.logger.WithFields(map[string]interface{}{
				"operation_id": failed.ID,
				"entity_id":    failed.EntityID,
				"attempts":     failed.Attempts,
			}).Error("Operation permanently failed")
			c.bus.Publish(events.OperationPermanentlyFailed{
				OperationID: failed.ID,
				EntityID:    failed.EntityID,
				Err:         cause,
			})
		}
	}
}

// pullPhase pages through remote changes and reconciles each record,
// returning the final cursor.
func (c *Coordinator) pullPhase(ctx context.Context, full bool) (string, error) {
	cursor := ""
	if !full {
		stored, err := c.cursor.Load()
		if err != nil {
			return "", fmt.Errorf("load cursor: %w", err)
		}
		cursor = stored
	}

	for {
		page, err := c.remote.Pull(ctx, cursor)
		if err != nil {
			return "", &models.SyncError{Code: models.ErrCodeNetwork, Phase: "pull", Err: err}
		}

		for _, record := range page.Changes {
			if err := c.applyRemoteChange(record); err != nil {
				return "", err
			}
		}

		cursor = page.Cursor
		if !page.More {
			return cursor, nil
		}
	}
}

func (c *Coordinator) applyRemoteChange(record models.RemoteRecord) error {
	st, err := c.states.Load(record.EntityID)
	if err != nil {
		if !errors.Is(err, models.ErrStateNotFound) {
			return fmt.Errorf("load state for %s: %w", record.EntityID, err)
		}
		if record.Deleted {
			return nil
		}
		return c.adoptRemote(models.NewSyncState(record.EntityID, record.EntityType), record)
	}

	if !st.Dirty {
		if record.Deleted {
			if err := c.charts.Delete(record.EntityID); err != nil && !errors.Is(err, storage.ErrChartNotFound) {
				return fmt.Errorf("delete chart %s: %w", record.EntityID, err)
			}
			if err := c.states.Delete(record.EntityID); err != nil {
				return fmt.Errorf("delete state %s: %w", record.EntityID, err)
			}
			c.bus.Publish(events.SubjectDeleted{SubjectID: record.EntityID})
			return nil
		}
		return c.adoptRemote(st, record)
	}

	// Dirty entity: classify against the pending local content.
	local := models.Fields{}
	if chart, err := c.charts.Get(record.EntityID); err == nil {
		local = chart.Fields
	} else if !errors.Is(err, storage.ErrChartNotFound) {
		return fmt.Errorf("load chart %s: %w", record.EntityID, err)
	}

	cls := c.detector.Classify(st, local, record)
	switch cls.Kind {
	case conflicts.NoConflict:
		return nil

	case conflicts.AutoResolvable:
		conflict := c.detector.NewConflict(st, local, record, cls)
		stored, err := c.conflicts.Create(conflict)
		if err != nil {
			return fmt.Errorf("record auto-resolvable conflict: %w", err)
		}
		if _, err := c.resolver.AutoResolve(stored.ID); err != nil {
			return fmt.Errorf("auto-resolve %s: %w", stored.ID, err)
		}
		return nil

	default:
		conflict := c.detector.NewConflict(st, local, record, cls)
		stored, err := c.conflicts.Create(conflict)
		if err != nil {
			return fmt.Errorf("record conflict: %w", err)
		}
		// Create dedupes: only announce conflicts we actually recorded.
		if stored.ID == conflict.ID {
			c.bus.Publish(events.ConflictDetected{
				ConflictID: stored.ID,
				EntityID:   stored.EntityID,
				Priority:   string(stored.Priority),
			})
		}
		return nil
	}
}

// adoptRemote applies a remote record to a clean entity.
func (c *Coordinator) adoptRemote(st *models.SyncState, record models.RemoteRecord) error {
	if err := c.charts.Put(&storage.Chart{
		EntityID:   record.EntityID,
		EntityType: record.EntityType,
		Fields:     record.Fields.Clone(),
	}); err != nil {
		return fmt.Errorf("write chart %s: %w", record.EntityID, err)
	}
	st.MarkSynced(record.Version, record.Fields, c.now())
	if err := c.states.Save(st); err != nil {
		return fmt.Errorf("save state %s: %w", record.EntityID, err)
	}
	return nil
}

// Metadata returns store metadata, cached for the configured TTL.
func (c *Coordinator) Metadata(ctx context.Context) (*models.StoreMetadata, error) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	if c.meta != nil && !c.metaStale && c.now().Sub(c.meta.FetchedAt) < c.opts.MetadataTTL {
		cached := *c.meta
		return &cached, nil
	}

	meta, err := c.remote.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	if meta.FetchedAt.IsZero() {
		meta.FetchedAt = c.now()
	}

	if c.meta != nil && c.meta.SchemaVersion != meta.SchemaVersion {
		c.logger.WithFields(map[string]interface{}{
			"from": c.meta.SchemaVersion,
			"to":   meta.SchemaVersion,
		}).Warn("Remote schema version changed")
		if c.snapshots != nil {
			if _, err := c.snapshots.CreateSnapshot(); err != nil {
				c.logger.WithError(err).Error("Snapshot before schema change failed")
			}
		}
	}
	c.meta = meta
	c.metaStale = false

	c.mu.Lock()
	c.status.QuotaUsed = meta.QuotaUsed
	c.status.QuotaLimit = meta.QuotaLimit
	c.mu.Unlock()

	cached := *meta
	return &cached, nil
}

func (c *Coordinator) invalidateMetadata() {
	c.metaMu.Lock()
	c.metaStale = true
	c.metaMu.Unlock()
}

// Status returns a snapshot augmented with live queue and conflict counts.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	snapshot := c.status
	c.mu.Unlock()

	if depth, err := c.queue.Depth(); err == nil {
		snapshot.PendingOperations = depth
	}
	if unresolved, err := c.conflicts.ListUnresolved(); err == nil {
		snapshot.UnresolvedConflicts = len(unresolved)
	}
	return snapshot
}

func (c *Coordinator) setPhase(phase Phase, errMsg string) {
	c.mu.Lock()
	changed := c.status.Phase != phase || c.status.LastError != errMsg
	c.status.Phase = phase
	c.status.LastError = errMsg
	lastSynced := c.status.LastSyncedAt
	c.mu.Unlock()

	if changed {
		c.bus.Publish(events.SyncStatusChanged{Status: string(phase), LastSyncedAt: lastSynced})
	}
}
