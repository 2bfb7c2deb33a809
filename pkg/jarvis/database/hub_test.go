package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/jarvis/pkg/jarvis/database/backends"
)

func TestHub_NewSQLite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	hub, err := NewHub(HubConfig{}, dir, nil)
	require.NoError(t, err)
	defer hub.Close()

	primary := hub.Primary()
	require.NotNil(t, primary)
	assert.Equal(t, BackendSQLite, primary.Type)
	assert.Equal(t, BackendSQLite, hub.Type())
	assert.Equal(t, filepath.Join(dir, DefaultSQLiteFile), primary.Config.Path)
	require.NotNil(t, hub.DB())

	var version int
	require.NoError(t, hub.DB().QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version))
	assert.Equal(t, backends.SchemaVersion, version)

	// Migrating an up-to-date schema is a no-op.
	require.NoError(t, primary.Migrate(0))

	status := hub.Status()
	require.Contains(t, status, PrimaryName)
	assert.True(t, status[PrimaryName].Healthy)
	assert.Empty(t, status[PrimaryName].Error)
}

func TestHub_Close(t *testing.T) {
	t.Parallel()

	hub, err := NewHub(DefaultHubConfig(t.TempDir()), "", nil)
	require.NoError(t, err)

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	status := hub.Status()[PrimaryName]
	assert.False(t, status.Healthy)
	assert.Equal(t, ErrClosed.Error(), status.Error)
	assert.Error(t, hub.DB().Ping())
}

func TestHub_UnsupportedBackend(t *testing.T) {
	t.Parallel()

	_, err := NewHub(HubConfig{Backend: "mysql"}, t.TempDir(), nil)
	assert.ErrorContains(t, err, "unsupported backend type")

	_, err = openBackend(Config{Type: "mysql"}, nil)
	assert.ErrorContains(t, err, "unsupported backend type")
}

func TestHubConfig_Effective(t *testing.T) {
	t.Parallel()

	cfg := HubConfig{SQLite: SQLiteConfig{Path: "custom.db"}}.Effective("/var/lib/jarvis")
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "custom.db", cfg.SQLite.Path)
	assert.Equal(t, "WAL", cfg.SQLite.JournalMode)
	assert.Equal(t, 5000, cfg.SQLite.BusyTimeout)

	cfg = HubConfig{}.Effective("/var/lib/jarvis")
	assert.Equal(t, filepath.Join("/var/lib/jarvis", DefaultSQLiteFile), cfg.SQLite.Path)
}
