package state

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/pkg/models"
)

func TestLoadMissingIsZero(t *testing.T) {
	f := NewFile(t.TempDir())
	st, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, st.LastPage)
	assert.Equal(t, 1, st.NextPage())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	f := NewFile(t.TempDir() + "/nested")
	require.NoError(t, f.Save(models.IngestionState{LastPage: 7, LastDataPage: 4, LastRunID: "r1"}))

	st, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, st.LastPage)
	assert.Equal(t, 4, st.LastDataPage)
	assert.Equal(t, 8, st.NextPage())
	assert.False(t, st.UpdatedAt.IsZero())
}

func TestLoadCorrupt(t *testing.T) {
	f := NewFile(t.TempDir())
	require.NoError(t, os.WriteFile(f.Path, []byte("{not json"), 0o644))
	_, err := f.Load()
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	f := NewFile(t.TempDir())
	require.NoError(t, f.Reset(), "reset without a file is fine")
	require.NoError(t, f.Save(models.IngestionState{LastPage: 3}))
	require.NoError(t, f.Reset())
	st, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, st.LastPage)
}
