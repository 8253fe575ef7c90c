package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJSON(t *testing.T) {
	dir := t.TempDir()

	t.Run("overlays present keys only", func(t *testing.T) {
		path := writeTempJSON(t, dir, "a.json", map[string]any{
			"server_url":         "https://sync.example.com",
			"sync_interval":      "10s",
			"file_sync_interval": int64(2 * time.Second),
			"max_records":        0,
		})
		var cfg Config
		cfg.LoadDefaults()
		require.NoError(t, parseJSON(&cfg, path))

		assert.Equal(t, "https://sync.example.com", cfg.ServerURL)
		assert.Equal(t, 10*time.Second, cfg.SyncInterval)
		assert.Equal(t, 2*time.Second, cfg.FileSyncInterval)
		assert.Equal(t, 0, cfg.MaxRecords, "explicit zero is kept")
		assert.Equal(t, ModeSingle, cfg.FileSyncMode)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))
		var cfg Config
		assert.Error(t, parseJSON(&cfg, bad))
	})

	t.Run("invalid duration", func(t *testing.T) {
		path := writeTempJSON(t, dir, "d.json", map[string]any{"sync_interval": "soon"})
		var cfg Config
		assert.Error(t, parseJSON(&cfg, path))
	})

	t.Run("flags beat the file", func(t *testing.T) {
		path := writeTempJSON(t, dir, "b.json", map[string]any{"file_sync_mode": "parallel", "max_records": 5})
		cfg, err := Load(newFlags(t, "-c", path, "--max-records", "9", "--root", dir))
		require.NoError(t, err)
		assert.Equal(t, ModeParallel, cfg.FileSyncMode)
		assert.Equal(t, 9, cfg.MaxRecords)
	})
}
