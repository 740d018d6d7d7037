package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chartkit/chartsync/internal/backup"
	"github.com/chartkit/chartsync/internal/conflicts"
	"github.com/chartkit/chartsync/internal/device"
	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
	"github.com/chartkit/chartsync/internal/queue"
	"github.com/chartkit/chartsync/internal/scheduler"
	"github.com/chartkit/chartsync/internal/state"
	"github.com/chartkit/chartsync/internal/storage"
)

// Engine is the application-facing facade: local edits in, sync cycles
// out. All collaborators are injected so tests can swap any of them.
type Engine struct {
	queue       queue.Queue
	states      state.Store
	charts      storage.ChartStore
	conflicts   conflicts.Store
	resolver    *conflicts.Resolver
	coordinator *Coordinator
	scheduler   *scheduler.Scheduler
	patterns    *scheduler.ActivityPatternStore
	backups     *backup.Coordinator
	deviceSrc   device.ContextSource
	bus         *events.Bus
	logger      *events.Logger

	now   func() time.Time
	newID func() string
}

// EngineDeps collects the engine's collaborators.
type EngineDeps struct {
	Queue       queue.Queue
	States      state.Store
	Charts      storage.ChartStore
	Conflicts   conflicts.Store
	Resolver    *conflicts.Resolver
	Coordinator *Coordinator
	Scheduler   *scheduler.Scheduler
	Patterns    *scheduler.ActivityPatternStore
	Backups     *backup.Coordinator
	DeviceSrc   device.ContextSource
	Bus         *events.Bus
	Logger      *events.Logger
}

// NewEngine creates the sync engine from explicit dependencies.
func NewEngine(deps EngineDeps) *Engine {
	return &Engine{
		queue:       deps.Queue,
		states:      deps.States,
		charts:      deps.Charts,
		conflicts:   deps.Conflicts,
		resolver:    deps.Resolver,
		coordinator: deps.Coordinator,
		scheduler:   deps.Scheduler,
		patterns:    deps.Patterns,
		backups:     deps.Backups,
		deviceSrc:   deps.DeviceSrc,
		bus:         deps.Bus,
		logger:      deps.Logger.WithField("component", "engine"),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// CreateChart records a new local chart and queues its creation. Returns
// the entity id (generated when empty).
func (e *Engine) CreateChart(entityType, entityID string, fields models.Fields) (string, error) {
	if entityID == "" {
		entityID = e.newID()
	}
	if entityType == "" {
		entityType = "chart"
	}

	if err := e.charts.Put(&storage.Chart{
		EntityID:   entityID,
		EntityType: entityType,
		Fields:     fields.Clone(),
		UpdatedAt:  e.now(),
	}); err != nil {
		return "", fmt.Errorf("write chart: %w", err)
	}

	if err := e.enqueue(entityType, entityID, models.OpCreate, fields); err != nil {
		return "", err
	}
	return entityID, nil
}

// UpdateChart records a local edit and queues its push. The pending
// queue coalesces it into any earlier unpushed mutation.
func (e *Engine) UpdateChart(entityID string, fields models.Fields) error {
	chart, err := e.charts.Get(entityID)
	if err != nil {
		return err
	}

	chart.Fields = fields.Clone()
	chart.UpdatedAt = e.now()
	if err := e.charts.Put(chart); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}

	return e.enqueue(chart.EntityType, entityID, models.OpUpdate, fields)
}

// DeleteChart removes a chart locally and queues its deletion. All
// earlier pending operations for the entity are superseded.
func (e *Engine) DeleteChart(entityID string) error {
	chart, err := e.charts.Get(entityID)
	if err != nil {
		return err
	}
	if err := e.charts.Delete(entityID); err != nil {
		return fmt.Errorf("delete chart: %w", err)
	}
	return e.enqueue(chart.EntityType, entityID, models.OpDelete, nil)
}

// GetChart returns the current local chart.
func (e *Engine) GetChart(entityID string) (*storage.Chart, error) {
	return e.charts.Get(entityID)
}

// ListCharts returns the local library.
func (e *Engine) ListCharts() ([]*storage.Chart, error) {
	return e.charts.List()
}

func (e *Engine) enqueue(entityType, entityID string, kind models.OperationKind, payload models.Fields) error {
	op := &models.PendingOperation{
		ID:         e.newID(),
		EntityType: entityType,
		EntityID:   entityID,
		Kind:       kind,
		Payload:    payload.Clone(),
		CreatedAt:  e.now(),
	}
	if err := e.queue.Enqueue(op); err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}

	st, err := e.states.Load(entityID)
	if err != nil {
		if !errors.Is(err, models.ErrStateNotFound) {
			return fmt.Errorf("load state: %w", err)
		}
		st = models.NewSyncState(entityID, entityType)
	}
	st.MarkDirty(e.now())
	if err := e.states.Save(st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Sync runs a cycle. full bypasses the stored cursor.
func (e *Engine) Sync(ctx context.Context, full bool) error {
	if full {
		return e.coordinator.PerformFullSync(ctx)
	}
	return e.coordinator.PerformIncrementalSync(ctx)
}

// BackgroundSync runs an incremental cycle under the background budget.
func (e *Engine) BackgroundSync(ctx context.Context) error {
	return e.coordinator.PerformBackgroundSync(ctx)
}

// EvaluateAndSync consults the scheduler against a fresh device context
// and syncs only when the decision allows it. The observed activity
// level also feeds the pattern store.
func (e *Engine) EvaluateAndSync(ctx context.Context) (scheduler.Decision, error) {
	deviceCtx, err := e.deviceSrc.Snapshot()
	if err != nil {
		return scheduler.Decision{}, fmt.Errorf("device context: %w", err)
	}

	if e.patterns != nil {
		if err := e.patterns.RecordActivity(e.scheduler.UserID(), e.now(), deviceCtx.ActivityLevel); err != nil {
			e.logger.WithError(err).Warn("Activity recording failed")
		}
	}

	decision := e.scheduler.Evaluate(deviceCtx)
	if !decision.ShouldSync {
		e.logger.WithField("reason", decision.Reason).Info("Scheduler declined sync")
		return decision, nil
	}

	err = e.BackgroundSync(ctx)
	if errors.Is(err, models.ErrSyncInProgress) {
		err = nil
	}
	return decision, err
}

// Status reports the current sync snapshot.
func (e *Engine) Status() Status {
	return e.coordinator.Status()
}

// Metadata returns remote store metadata, cached per the configured TTL.
func (e *Engine) Metadata(ctx context.Context) (*models.StoreMetadata, error) {
	return e.coordinator.Metadata(ctx)
}

// Conflicts lists unresolved conflicts ordered by priority.
func (e *Engine) Conflicts() ([]*models.SyncConflict, error) {
	return e.conflicts.ListUnresolved()
}

// ResolveConflict applies a user decision to a conflict.
func (e *Engine) ResolveConflict(conflictID string, strategy models.ResolutionStrategy, mergeValues models.Fields) (*conflicts.ResolvedEntity, error) {
	return e.resolver.ApplyUserResolution(conflictID, strategy, mergeValues)
}

// CreateBackup snapshots the chart library.
func (e *Engine) CreateBackup() (string, error) {
	return e.backups.CreateSnapshot()
}

// RestoreBackup rolls the chart library back to a snapshot.
func (e *Engine) RestoreBackup(snapshotID string) error {
	return e.backups.Restore(snapshotID)
}

// ListBackups lists stored snapshots, newest first.
func (e *Engine) ListBackups() ([]backup.Info, error) {
	return e.backups.List()
}

// Subscribe exposes the event bus for UI surfaces and the daemon.
func (e *Engine) Subscribe(buffer int) (<-chan events.Event, func()) {
	return e.bus.Subscribe(buffer)
}

// Close releases all engine resources.
func (e *Engine) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(e.queue.Close())
	keep(e.states.Close())
	keep(e.conflicts.Close())
	keep(e.charts.Close())
	if e.patterns != nil {
		keep(e.patterns.Close())
	}
	return firstErr
}
