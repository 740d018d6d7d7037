package conflicts

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
)

func testLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, io.Discard)
}

func syncedState(entityID string, version string, base models.Fields) *models.SyncState {
	st := models.NewSyncState(entityID, "chart")
	st.MarkSynced(version, base, time.Now())
	st.MarkDirty(time.Now())
	return st
}

func TestClassifyNoConflictWhenRemoteUnchanged(t *testing.T) {
	d := NewDetector(testLogger())
	base := models.Fields{"title": "Solar", "tempo": "160"}
	st := syncedState("e1", "v3", base)

	local := models.Fields{"title": "Solar", "tempo": "170"}
	remote := models.RemoteRecord{EntityID: "e1", Version: "v3", Fields: base}

	cls := d.Classify(st, local, remote)
	assert.Equal(t, NoConflict, cls.Kind)
}

func TestClassifyDisjointChangesAutoResolvable(t *testing.T) {
	d := NewDetector(testLogger())
	base := models.Fields{"title": "Solar", "tempo": "160", "artist": ""}
	st := syncedState("e1", "v3", base)

	// Local changed tempo, remote changed artist: no overlap.
	local := models.Fields{"title": "Solar", "tempo": "170", "artist": ""}
	remote := models.RemoteRecord{
		EntityID: "e1",
		Version:  "v4",
		Fields:   models.Fields{"title": "Solar", "tempo": "160", "artist": "Miles Davis"},
	}

	cls := d.Classify(st, local, remote)
	assert.Equal(t, AutoResolvable, cls.Kind)
	assert.Equal(t, models.PriorityLow, cls.Priority)

	for _, change := range cls.Diff {
		assert.False(t, change.Overlap, "field %s must not overlap", change.Name)
	}
}

func TestClassifyOverlappingTitleIsHighPriority(t *testing.T) {
	d := NewDetector(testLogger())
	base := models.Fields{"title": "Untitled", "tempo": "120"}
	st := syncedState("e1", "v1", base)

	local := models.Fields{"title": "My Song", "tempo": "120"}
	remote := models.RemoteRecord{
		EntityID: "e1",
		Version:  "v2",
		Fields:   models.Fields{"title": "Their Song", "tempo": "120"},
	}

	cls := d.Classify(st, local, remote)
	assert.Equal(t, RequiresDecision, cls.Kind)
	assert.Equal(t, models.PriorityHigh, cls.Priority)
}

func TestClassifyOverlappingMinorFieldIsMediumPriority(t *testing.T) {
	d := NewDetector(testLogger())
	base := models.Fields{"title": "x", "tempo": "120"}
	st := syncedState("e1", "v1", base)

	local := models.Fields{"title": "x", "tempo": "140"}
	remote := models.RemoteRecord{
		EntityID: "e1",
		Version:  "v2",
		Fields:   models.Fields{"title": "x", "tempo": "132"},
	}

	cls := d.Classify(st, local, remote)
	assert.Equal(t, RequiresDecision, cls.Kind)
	assert.Equal(t, models.PriorityMedium, cls.Priority)
}

func TestClassifyRemoteDelete(t *testing.T) {
	d := NewDetector(testLogger())
	base := models.Fields{"title": "x"}
	st := syncedState("e1", "v1", base)

	local := models.Fields{"title": "x", "content": "| Cm7 | F7 |"}
	remote := models.RemoteRecord{EntityID: "e1", Version: "v2", Deleted: true}

	cls := d.Classify(st, local, remote)
	assert.Equal(t, RequiresDecision, cls.Kind)
	assert.Equal(t, models.PriorityHigh, cls.Priority)
	assert.True(t, cls.RemoteDeleted)
}

func TestClassifyIsDeterministic(t *testing.T) {
	d := NewDetector(testLogger())
	base := models.Fields{"title": "a", "tempo": "1", "key": "C"}
	st := syncedState("e1", "v1", base)
	local := models.Fields{"title": "b", "tempo": "2", "key": "C"}
	remote := models.RemoteRecord{
		EntityID: "e1",
		Version:  "v2",
		Fields:   models.Fields{"title": "c", "tempo": "1", "key": "D"},
	}

	first := d.Classify(st, local, remote)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, d.Classify(st, local, remote))
	}
}

func TestNewConflictMaterializesDiff(t *testing.T) {
	d := NewDetector(testLogger())
	base := models.Fields{"title": "x"}
	st := syncedState("e1", "v1", base)
	local := models.Fields{"title": "local"}
	remote := models.RemoteRecord{EntityID: "e1", Version: "v2", Fields: models.Fields{"title": "remote"}}

	cls := d.Classify(st, local, remote)
	conflict := d.NewConflict(st, local, remote, cls)

	require.NotEmpty(t, conflict.ID)
	assert.Equal(t, "e1", conflict.EntityID)
	assert.Equal(t, "v2", conflict.RemoteVersion)
	assert.Equal(t, models.ConflictUnresolved, conflict.Status)
	assert.Equal(t, []string{"title"}, conflict.OverlappingFields())
}
