package backup

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
	"github.com/chartkit/chartsync/internal/storage"
)

func testLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, io.Discard)
}

func newFixture(t *testing.T, keep int) (*Coordinator, *storage.MockStore) {
	t.Helper()
	charts := storage.NewMockStore()
	c := NewCoordinator(charts, t.TempDir(), keep, testLogger())
	return c, charts
}

func TestSnapshotAndRestore(t *testing.T) {
	c, charts := newFixture(t, 5)

	require.NoError(t, charts.Put(&storage.Chart{
		EntityID: "e1", EntityType: "chart",
		Fields: models.Fields{"title": "Solar"},
	}))

	id, err := c.CreateSnapshot()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Mutate and add after the snapshot.
	require.NoError(t, charts.Put(&storage.Chart{
		EntityID: "e1", EntityType: "chart",
		Fields: models.Fields{"title": "Mutated"},
	}))
	require.NoError(t, charts.Put(&storage.Chart{
		EntityID: "e2", EntityType: "chart",
		Fields: models.Fields{"title": "Later"},
	}))

	require.NoError(t, c.Restore(id))

	restored, err := charts.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, "Solar", restored.Fields["title"])

	// Charts created after the snapshot are gone.
	_, err = charts.Get("e2")
	assert.ErrorIs(t, err, storage.ErrChartNotFound)
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	c, _ := newFixture(t, 5)
	err := c.Restore("no-such-snapshot")
	assert.ErrorIs(t, err, models.ErrSnapshotNotFound)
}

func TestRetentionPrunesOldest(t *testing.T) {
	c, charts := newFixture(t, 2)
	require.NoError(t, charts.Put(&storage.Chart{EntityID: "e1", EntityType: "chart", Fields: models.Fields{}}))

	tick := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := c.CreateSnapshot()
		require.NoError(t, err)
		ids = append(ids, id)
	}

	infos, err := c.List()
	require.NoError(t, err)
	require.Len(t, infos, 2, "only the newest snapshots survive")
	assert.Equal(t, ids[3], infos[0].ID)
	assert.Equal(t, ids[2], infos[1].ID)

	// Pruned snapshots cannot be restored.
	err = c.Restore(ids[0])
	assert.ErrorIs(t, err, models.ErrSnapshotNotFound)
}

func TestListNewestFirst(t *testing.T) {
	c, _ := newFixture(t, 5)

	tick := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		tick = tick.Add(time.Hour)
		return tick
	}

	first, err := c.CreateSnapshot()
	require.NoError(t, err)
	second, err := c.CreateSnapshot()
	require.NoError(t, err)

	infos, err := c.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, second, infos[0].ID)
	assert.Equal(t, first, infos[1].ID)
}
