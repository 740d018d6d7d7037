package conflicts

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
	"github.com/chartkit/chartsync/internal/queue"
	"github.com/chartkit/chartsync/internal/state"
	"github.com/chartkit/chartsync/internal/storage"
)

type stubSnapshotter struct {
	calls int
	err   error
}

func (s *stubSnapshotter) CreateSnapshot() (string, error) {
	s.calls++
	return "snap-1", s.err
}

type resolverFixture struct {
	resolver  *Resolver
	conflicts *MemStore
	queue     *queue.MemQueue
	states    *state.MockStore
	charts    *storage.MockStore
	snapshots *stubSnapshotter
	bus       *events.Bus
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	logger := events.NewTestLogger(events.ErrorLevel, io.Discard)

	f := &resolverFixture{
		conflicts: NewMemStore(),
		queue:     queue.NewMemQueue(3),
		states:    state.NewMockStore(),
		charts:    storage.NewMockStore(),
		snapshots: &stubSnapshotter{},
		bus:       events.NewBus(logger),
	}
	f.resolver = NewResolver(f.conflicts, f.queue, f.states, f.charts, f.snapshots, f.bus, logger)
	return f
}

// seedConflict installs a conflict plus matching chart and state records.
func (f *resolverFixture) seedConflict(t *testing.T, base, local, remote models.Fields, remoteDeleted bool) *models.SyncConflict {
	t.Helper()

	st := models.NewSyncState("e1", "chart")
	st.MarkSynced("v1", base, time.Now())
	st.MarkDirty(time.Now())
	require.NoError(t, f.states.Save(st))
	require.NoError(t, f.charts.Put(&storage.Chart{EntityID: "e1", EntityType: "chart", Fields: local.Clone()}))

	d := NewDetector(events.NewTestLogger(events.ErrorLevel, io.Discard))
	record := models.RemoteRecord{EntityID: "e1", EntityType: "chart", Version: "v2", Fields: remote, Deleted: remoteDeleted}
	cls := d.Classify(st, local, record)
	conflict := d.NewConflict(st, local, record, cls)

	stored, err := f.conflicts.Create(conflict)
	require.NoError(t, err)
	return stored
}

func TestAutoResolveMergesDisjointChanges(t *testing.T) {
	f := newResolverFixture(t)
	base := models.Fields{"title": "Solar", "tempo": "160", "artist": ""}
	local := models.Fields{"title": "Solar", "tempo": "170", "artist": ""}
	remote := models.Fields{"title": "Solar", "tempo": "160", "artist": "Miles Davis"}
	conflict := f.seedConflict(t, base, local, remote, false)

	result, err := f.resolver.AutoResolve(conflict.ID)
	require.NoError(t, err)

	assert.Equal(t, "170", result.Fields["tempo"], "local change kept")
	assert.Equal(t, "Miles Davis", result.Fields["artist"], "remote change kept")
	assert.Equal(t, "Solar", result.Fields["title"], "untouched field from base")

	// Merged result written locally and queued for push.
	chart, err := f.charts.Get("e1")
	require.NoError(t, err)
	assert.True(t, result.Fields.Equal(chart.Fields))

	batch, err := f.queue.PeekBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, models.OpUpdate, batch[0].Kind)
	assert.Equal(t, "v2", batch[0].BaseVersion)

	// Conflict audited as auto-resolved.
	closed, err := f.conflicts.Get(conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictAutoResolved, closed.Status)

	// Entity stays dirty until the merge is pushed.
	st, err := f.states.Load("e1")
	require.NoError(t, err)
	assert.True(t, st.Dirty)
	assert.Equal(t, "v2", st.RemoteVersion)
}

func TestAutoResolveIsDeterministic(t *testing.T) {
	base := models.Fields{"a": "0", "b": "0", "c": "0"}
	local := models.Fields{"a": "L", "b": "0", "c": "0"}
	remote := models.Fields{"a": "0", "b": "R", "c": "0"}

	var outputs [][]byte
	for i := 0; i < 5; i++ {
		f := newResolverFixture(t)
		conflict := f.seedConflict(t, base, local, remote, false)
		result, err := f.resolver.AutoResolve(conflict.ID)
		require.NoError(t, err)

		data, err := result.Fields.MarshalStable()
		require.NoError(t, err)
		outputs = append(outputs, data)
	}
	for _, out := range outputs[1:] {
		assert.Equal(t, outputs[0], out)
	}
}

func TestAutoResolveRejectsOverlap(t *testing.T) {
	f := newResolverFixture(t)
	base := models.Fields{"title": "x"}
	conflict := f.seedConflict(t, base, models.Fields{"title": "L"}, models.Fields{"title": "R"}, false)

	_, err := f.resolver.AutoResolve(conflict.ID)
	assert.ErrorIs(t, err, models.ErrInvalidResolution)
}

func TestKeepLocalReenqueuesLocalPayload(t *testing.T) {
	f := newResolverFixture(t)
	base := models.Fields{"title": "x"}
	local := models.Fields{"title": "mine"}
	conflict := f.seedConflict(t, base, local, models.Fields{"title": "theirs"}, false)

	result, err := f.resolver.ApplyUserResolution(conflict.ID, models.ResolveKeepLocal, nil)
	require.NoError(t, err)
	assert.Equal(t, "mine", result.Fields["title"])

	batch, err := f.queue.PeekBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "mine", batch[0].Payload["title"])

	// No snapshot needed: nothing local is lost.
	assert.Zero(t, f.snapshots.calls)
}

func TestKeepRemoteDiscardsLocalWork(t *testing.T) {
	f := newResolverFixture(t)
	base := models.Fields{"title": "x"}
	local := models.Fields{"title": "mine"}
	conflict := f.seedConflict(t, base, local, models.Fields{"title": "theirs"}, false)

	// A pending edit that must be discarded.
	require.NoError(t, f.queue.Enqueue(&models.PendingOperation{
		ID: "pending-1", EntityType: "chart", EntityID: "e1",
		Kind: models.OpUpdate, Payload: local, CreatedAt: time.Now(),
	}))

	result, err := f.resolver.ApplyUserResolution(conflict.ID, models.ResolveKeepRemote, nil)
	require.NoError(t, err)
	assert.Equal(t, "theirs", result.Fields["title"])

	// Snapshot taken before local data was destroyed.
	assert.Equal(t, 1, f.snapshots.calls)

	depth, err := f.queue.Depth()
	require.NoError(t, err)
	assert.Zero(t, depth)

	st, err := f.states.Load("e1")
	require.NoError(t, err)
	assert.False(t, st.Dirty)
	assert.Equal(t, "v2", st.RemoteVersion)
}

func TestKeepRemoteOnRemoteDeleteRemovesEntity(t *testing.T) {
	f := newResolverFixture(t)
	base := models.Fields{"title": "x"}
	local := models.Fields{"title": "mine"}
	conflict := f.seedConflict(t, base, local, nil, true)

	eventsCh, cancel := f.bus.Subscribe(4)
	defer cancel()

	result, err := f.resolver.ApplyUserResolution(conflict.ID, models.ResolveKeepRemote, nil)
	require.NoError(t, err)
	assert.True(t, result.Deleted)

	_, err = f.charts.Get("e1")
	assert.ErrorIs(t, err, storage.ErrChartNotFound)
	_, err = f.states.Load("e1")
	assert.ErrorIs(t, err, models.ErrStateNotFound)

	select {
	case evt := <-eventsCh:
		deleted, ok := evt.(events.SubjectDeleted)
		require.True(t, ok, "expected SubjectDeleted, got %T", evt)
		assert.Equal(t, "e1", deleted.SubjectID)
	default:
		t.Fatal("expected SubjectDeleted event")
	}
}

func TestKeepBothDuplicatesLocalVersion(t *testing.T) {
	f := newResolverFixture(t)
	base := models.Fields{"title": "Song"}
	local := models.Fields{"title": "Song", "content": "| local |"}
	remote := models.Fields{"title": "Song", "content": "| remote |"}
	conflict := f.seedConflict(t, base, local, remote, false)

	result, err := f.resolver.ApplyUserResolution(conflict.ID, models.ResolveKeepBoth, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.DuplicateEntityID)
	assert.NotEqual(t, "e1", result.DuplicateEntityID)

	// Original takes the remote content.
	original, err := f.charts.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, "| remote |", original.Fields["content"])

	// Duplicate carries the local content plus a marker.
	dup, err := f.charts.Get(result.DuplicateEntityID)
	require.NoError(t, err)
	assert.Equal(t, "| local |", dup.Fields["content"])
	assert.Equal(t, "e1", dup.Fields["duplicate_of"])
	assert.Contains(t, dup.Fields["title"], "conflicted copy")

	// Duplicate's creation is queued.
	batch, err := f.queue.PeekBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, models.OpCreate, batch[0].Kind)
	assert.Equal(t, result.DuplicateEntityID, batch[0].EntityID)

	assert.Equal(t, 1, f.snapshots.calls)
}

func TestMergeRequiresExplicitValuesForOverlaps(t *testing.T) {
	f := newResolverFixture(t)
	base := models.Fields{"title": "x", "tempo": "100"}
	local := models.Fields{"title": "L", "tempo": "110"}
	remote := models.Fields{"title": "R", "tempo": "120"}
	conflict := f.seedConflict(t, base, local, remote, false)

	_, err := f.resolver.ApplyUserResolution(conflict.ID, models.ResolveMerge, models.Fields{"title": "Final"})
	var re *models.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, []string{"tempo"}, re.MissingFields)

	// Rejected resolution leaves the conflict open and the chart untouched.
	open, err := f.conflicts.Get(conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictUnresolved, open.Status)

	chart, err := f.charts.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, "L", chart.Fields["title"])
}

func TestMergeAppliesExplicitValues(t *testing.T) {
	f := newResolverFixture(t)
	base := models.Fields{"title": "x", "tempo": "100", "key": "C"}
	local := models.Fields{"title": "L", "tempo": "100", "key": "D"}
	remote := models.Fields{"title": "R", "tempo": "100", "key": "C"}
	conflict := f.seedConflict(t, base, local, remote, false)

	result, err := f.resolver.ApplyUserResolution(conflict.ID, models.ResolveMerge, models.Fields{"title": "Final"})
	require.NoError(t, err)

	assert.Equal(t, "Final", result.Fields["title"], "explicit value for contested field")
	assert.Equal(t, "D", result.Fields["key"], "uncontested local change kept")
	assert.Equal(t, "100", result.Fields["tempo"])

	closed, err := f.conflicts.Get(conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictUserResolved, closed.Status)
}

func TestResolveTerminalConflictIsNoOp(t *testing.T) {
	f := newResolverFixture(t)
	base := models.Fields{"title": "x"}
	conflict := f.seedConflict(t, base, models.Fields{"title": "L"}, models.Fields{"title": "R"}, false)

	_, err := f.resolver.ApplyUserResolution(conflict.ID, models.ResolveKeepLocal, nil)
	require.NoError(t, err)

	result, err := f.resolver.ApplyUserResolution(conflict.ID, models.ResolveKeepRemote, nil)
	require.NoError(t, err)
	assert.True(t, result.AlreadyResolved)

	// The second attempt performed no side effects.
	assert.Zero(t, f.snapshots.calls)
}
