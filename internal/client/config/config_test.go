package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, 1000, c.MaxRecords)
	assert.Equal(t, 60*time.Second, c.SyncInterval)
	assert.Equal(t, 10*time.Second, c.FileSyncInterval)
	assert.Equal(t, ModeSingle, c.FileSyncMode)
	assert.False(t, c.CloudSyncEnabled)
	require.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	var c Config
	c.LoadDefaults()
	c.ServerURL = "not a url"
	c.FileSyncMode = "burst"
	c.SyncInterval = 0

	err := c.Validate()
	require.Error(t, err)
	assert.Equal(t, common.KindConfig, common.KindOf(err))
	assert.Contains(t, err.Error(), "server_url")
	assert.Contains(t, err.Error(), "file_sync_mode")
	assert.Contains(t, err.Error(), "sync_interval")
}

func TestLoad_NoSettingsFileUsesDefaults(t *testing.T) {
	root := t.TempDir()
	f := newFlags(t, "--root", root)

	cfg, err := Load(f)
	require.NoError(t, err)
	assert.Equal(t, root, cfg.RootDir)
	assert.Equal(t, 1000, cfg.MaxRecords)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	f := newFlags(t, "-c", filepath.Join(t.TempDir(), "absent.json"))

	_, err := Load(f)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSave_RoundTrip(t *testing.T) {
	root := t.TempDir()
	var c Config
	c.LoadDefaults()
	c.RootDir = root
	c.CloudSyncEnabled = true
	c.MaxRecords = 7
	c.IndexPersistDelay = 3 * time.Second

	require.NoError(t, c.Save(c.SettingsPath()))

	got, err := Load(newFlags(t, "--root", root))
	require.NoError(t, err)
	assert.Equal(t, c, *got)
}
