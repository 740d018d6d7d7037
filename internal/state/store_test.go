package state

import (
	"io"
	"path/filepath"
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

func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("load missing entity", func(t *testing.T) {
		s := open(t)
		_, err := s.Load("absent")
		assert.ErrorIs(t, err, models.ErrStateNotFound)
	})

	t.Run("save and load round trip", func(t *testing.T) {
		s := open(t)
		st := models.NewSyncState("e1", "chart")
		st.MarkSynced("v2", models.Fields{"title": "Solar", "key": "C"}, time.Now())
		require.NoError(t, s.Save(st))

		loaded, err := s.Load("e1")
		require.NoError(t, err)
		assert.Equal(t, "v2", loaded.RemoteVersion)
		assert.False(t, loaded.Dirty)
		assert.Equal(t, "Solar", loaded.BaseSnapshot["title"])
	})

	t.Run("save upserts", func(t *testing.T) {
		s := open(t)
		st := models.NewSyncState("e1", "chart")
		require.NoError(t, s.Save(st))

		st.MarkDirty(time.Now())
		require.NoError(t, s.Save(st))

		loaded, err := s.Load("e1")
		require.NoError(t, err)
		assert.True(t, loaded.Dirty)
	})

	t.Run("list dirty", func(t *testing.T) {
		s := open(t)
		clean := models.NewSyncState("clean", "chart")
		clean.MarkSynced("v1", models.Fields{}, time.Now())
		require.NoError(t, s.Save(clean))

		dirty := models.NewSyncState("dirty", "chart")
		dirty.MarkDirty(time.Now())
		require.NoError(t, s.Save(dirty))

		ids, err := s.ListDirty()
		require.NoError(t, err)
		assert.Equal(t, []string{"dirty"}, ids)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Save(models.NewSyncState("e1", "chart")))
		require.NoError(t, s.Delete("e1"))

		_, err := s.Load("e1")
		assert.ErrorIs(t, err, models.ErrStateNotFound)

		n, err := s.Count()
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestMockStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMockStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewSQLiteStore(path, testLogger())
	require.NoError(t, err)
	st := models.NewSyncState("e1", "chart")
	st.MarkSynced("v7", models.Fields{"tempo": "120"}, time.Now())
	require.NoError(t, s.Save(st))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load("e1")
	require.NoError(t, err)
	assert.Equal(t, "v7", loaded.RemoteVersion)
	assert.Equal(t, "120", loaded.BaseSnapshot["tempo"])
}
