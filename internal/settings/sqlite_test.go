package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")

	backend, err := OpenSQLite(path)
	require.NoError(t, err)

	blob, version, err := backend.Load()
	require.NoError(t, err)
	assert.Empty(t, blob)
	assert.Equal(t, int64(0), version)

	require.NoError(t, backend.Save([]byte(`{"usage": {}}`), 1))
	require.NoError(t, backend.Save([]byte(`{"usage": {"allTime": {}}}`), 2))
	require.NoError(t, backend.Close())

	// Reopen: the single row holds the latest write.
	backend, err = OpenSQLite(path)
	require.NoError(t, err)
	defer backend.Close()

	blob, version, err = backend.Load()
	require.NoError(t, err)
	assert.Equal(t, `{"usage": {"allTime": {}}}`, string(blob))
	assert.Equal(t, int64(2), version)
}

func TestBlobOverSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	backend, err := OpenSQLite(path)
	require.NoError(t, err)

	blob, err := Open(backend)
	require.NoError(t, err)
	require.NoError(t, blob.Set(SectionModelColors, map[string]string{"m": "#123456"}))
	require.NoError(t, blob.Close())

	backend, err = OpenSQLite(path)
	require.NoError(t, err)
	blob, err = Open(backend)
	require.NoError(t, err)
	defer blob.Close()

	assert.Equal(t, "#123456", blob.Get("modelColors.m").String())
	assert.Equal(t, int64(1), blob.Version())
}
