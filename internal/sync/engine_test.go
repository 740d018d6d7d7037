package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartkit/chartsync/internal/conflicts"
	"github.com/chartkit/chartsync/internal/device"
	"github.com/chartkit/chartsync/internal/models"
	"github.com/chartkit/chartsync/internal/scheduler"
	"github.com/chartkit/chartsync/internal/storage"
)

type engineFixture struct {
	engine *Engine
	inner  *fixture
	device *device.StaticSource
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	logger := testLogger()
	f := newFixture(t, 3, fastOptions())

	src := &device.StaticSource{Context: models.DeviceContext{
		BatteryLevel:   0.9,
		Charging:       true,
		Thermal:        models.ThermalNominal,
		Network:        models.NetworkWifi,
		NetworkQuality: 1.0,
		CapturedAt:     time.Now(),
	}}

	resolver := conflicts.NewResolver(f.conflicts, f.queue, f.states, f.charts, noopSnapshotter{}, f.bus, logger)
	engine := NewEngine(EngineDeps{
		Queue:       f.queue,
		States:      f.states,
		Charts:      f.charts,
		Conflicts:   f.conflicts,
		Resolver:    resolver,
		Coordinator: f.coordinator,
		Scheduler:   scheduler.NewScheduler(nil, "user-1", false, logger),
		DeviceSrc:   src,
		Bus:         f.bus,
		Logger:      logger,
	})
	return &engineFixture{engine: engine, inner: f, device: src}
}

func TestEngineEditThenSyncRoundTrip(t *testing.T) {
	ef := newEngineFixture(t)

	id, err := ef.engine.CreateChart("chart", "", models.Fields{"title": "Solar", "tempo": "160"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// A follow-up edit coalesces into the pending create.
	require.NoError(t, ef.engine.UpdateChart(id, models.Fields{"title": "Solar", "tempo": "170"}))

	depth, err := ef.inner.queue.Depth()
	require.NoError(t, err)
	assert.Equal(t, 1, depth, "edits to an unpushed chart coalesce")

	require.NoError(t, ef.engine.Sync(context.Background(), true))

	rec, ok := ef.inner.client.Record(id)
	require.True(t, ok)
	assert.Equal(t, "170", rec.Fields["tempo"], "remote receives the coalesced payload")

	status := ef.engine.Status()
	assert.Zero(t, status.PendingOperations)
}

func TestEngineDeleteSupersedesEdits(t *testing.T) {
	ef := newEngineFixture(t)

	id, err := ef.engine.CreateChart("chart", "song-1", models.Fields{"title": "x"})
	require.NoError(t, err)
	require.NoError(t, ef.engine.DeleteChart(id))

	batch, err := ef.inner.queue.PeekBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, models.OpDelete, batch[0].Kind)

	_, err = ef.engine.GetChart(id)
	assert.ErrorIs(t, err, storage.ErrChartNotFound)
}

func TestEngineEvaluateAndSyncHonorsScheduler(t *testing.T) {
	ef := newEngineFixture(t)
	_, err := ef.engine.CreateChart("chart", "song-1", models.Fields{"title": "x"})
	require.NoError(t, err)

	// Offline: the scheduler blocks and no push happens.
	ef.device.Context.Network = models.NetworkOffline
	decision, err := ef.engine.EvaluateAndSync(context.Background())
	require.NoError(t, err)
	assert.False(t, decision.ShouldSync)
	assert.Empty(t, ef.inner.client.PushedBatches())

	// Back on wifi the same call syncs.
	ef.device.Context.Network = models.NetworkWifi
	decision, err = ef.engine.EvaluateAndSync(context.Background())
	require.NoError(t, err)
	assert.True(t, decision.ShouldSync)
	assert.NotEmpty(t, ef.inner.client.PushedBatches())
}

func TestEngineResolveConflictSurface(t *testing.T) {
	ef := newEngineFixture(t)

	base := models.Fields{"title": "Original"}
	st := models.NewSyncState("e1", "chart")
	st.MarkSynced("v-base", base, time.Now())
	st.MarkDirty(time.Now())
	require.NoError(t, ef.inner.states.Save(st))
	require.NoError(t, ef.inner.charts.Put(&storage.Chart{
		EntityID: "e1", EntityType: "chart", Fields: models.Fields{"title": "Mine"},
	}))
	ef.inner.client.Seed(models.RemoteRecord{
		EntityID: "e1", EntityType: "chart", Fields: models.Fields{"title": "Theirs"},
	})

	require.NoError(t, ef.engine.Sync(context.Background(), true))

	list, err := ef.engine.Conflicts()
	require.NoError(t, err)
	require.Len(t, list, 1)

	result, err := ef.engine.ResolveConflict(list[0].ID, models.ResolveKeepLocal, nil)
	require.NoError(t, err)
	assert.Equal(t, "Mine", result.Fields["title"])

	remaining, err := ef.engine.Conflicts()
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
