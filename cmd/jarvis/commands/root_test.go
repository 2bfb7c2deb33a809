package commands

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/jarvis/pkg/jarvis/config"
	"github.com/jholhewres/jarvis/pkg/jarvis/database"
	"github.com/jholhewres/jarvis/pkg/jarvis/store"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd("test")

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "chat", "run", "events", "remind", "alarm", "screenshot", "setup", "status"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("verbose"))
}

func TestNewLogger(t *testing.T) {
	root := NewRootCmd("test")
	cfg := config.DefaultConfig()
	cfg.Logging.Format = "text"
	cfg.Logging.Level = "warn"

	var buf bytes.Buffer
	logger := newLogger(root, cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown k=v")

	require.NoError(t, root.PersistentFlags().Set("verbose", "true"))
	logger = newLogger(root, cfg, &buf)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func writeConfig(t *testing.T) (path, dataDir string) {
	t.Helper()
	for _, k := range []string{config.EnvDataDir, config.EnvHeadless, config.EnvLogLevel, config.EnvDatabaseURL, config.EnvPlannerMode} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	path = filepath.Join(dir, "jarvis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: data\nlogging:\n  level: error\n"), 0o600))
	return path, filepath.Join(dir, "data")
}

func TestRunCmd_PlanAddsAlarm(t *testing.T) {
	path, dataDir := writeConfig(t)

	root := NewRootCmd("test")
	root.SetArgs([]string{"--config", path, "run", "--plan",
		`{"response":"ok","actions":[{"name":"alarm.add","args":{"label":"tea","run_at":"10m"}}]}`})
	require.NoError(t, root.Execute())

	hub, err := database.NewHub(database.HubConfig{}, dataDir, nil)
	require.NoError(t, err)
	defer hub.Close()
	s := store.New(hub, nil)

	alarms, err := s.ListAlarms(context.Background())
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, "tea", alarms[0].Label)
}

func TestRunCmd_FailedActionIsAnError(t *testing.T) {
	path, _ := writeConfig(t)

	root := NewRootCmd("test")
	root.SetArgs([]string{"--config", path, "run", "--plan", `{"actions":[{"name":"unknown.op"}]}`})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 action(s) failed")
}

func TestRemindCmd_RequiresValidTime(t *testing.T) {
	path, _ := writeConfig(t)

	root := NewRootCmd("test")
	root.SetArgs([]string{"--config", path, "remind", "add", "stretch", "--at", "whenever"})
	assert.Error(t, root.Execute())
}
