package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsChangedFrom(t *testing.T) {
	base := Fields{"title": "Blue Bossa", "key": "Cm", "tempo": "160"}

	t.Run("detects modified fields", func(t *testing.T) {
		current := Fields{"title": "Blue Bossa", "key": "Dm", "tempo": "160"}
		assert.Equal(t, []string{"key"}, current.ChangedFrom(base))
	})

	t.Run("detects added and removed fields", func(t *testing.T) {
		current := Fields{"title": "Blue Bossa", "key": "Cm", "artist": "Dorham"}
		assert.Equal(t, []string{"artist", "tempo"}, current.ChangedFrom(base))
	})

	t.Run("identical fields yield no changes", func(t *testing.T) {
		assert.Empty(t, base.Clone().ChangedFrom(base))
	})

	t.Run("nil base treats everything as added", func(t *testing.T) {
		current := Fields{"title": "x"}
		assert.Equal(t, []string{"title"}, current.ChangedFrom(nil))
	})
}

func TestFieldsMarshalStable(t *testing.T) {
	fields := Fields{"tempo": "132", "artist": "Kosma", "title": "Autumn Leaves"}

	first, err := fields.MarshalStable()
	require.NoError(t, err)

	// Byte-identical across invocations regardless of map iteration order.
	for i := 0; i < 20; i++ {
		again, err := fields.Clone().MarshalStable()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	assert.JSONEq(t, `{"artist":"Kosma","tempo":"132","title":"Autumn Leaves"}`, string(first))
}

func TestFieldsEqual(t *testing.T) {
	a := Fields{"title": "x", "key": "G"}
	assert.True(t, a.Equal(Fields{"key": "G", "title": "x"}))
	assert.False(t, a.Equal(Fields{"title": "x"}))
	assert.False(t, a.Equal(Fields{"title": "x", "key": "A"}))
	assert.True(t, Fields(nil).Equal(Fields{}))
}

func TestSyncStateMarkSynced(t *testing.T) {
	st := NewSyncState("chart-1", "chart")
	st.MarkDirty(st.UpdatedAt)
	require.True(t, st.Dirty)

	snapshot := Fields{"title": "x"}
	st.MarkSynced("v3", snapshot, st.UpdatedAt)

	assert.False(t, st.Dirty)
	assert.Equal(t, "v3", st.RemoteVersion)
	assert.Equal(t, snapshot, st.BaseSnapshot)

	// Snapshot is copied, not aliased.
	snapshot["title"] = "mutated"
	assert.Equal(t, "x", st.BaseSnapshot["title"])
}
