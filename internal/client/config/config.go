package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/filex"
)

const (
	ModeSingle   = "single"
	ModeParallel = "parallel"
)

// Config holds runtime settings.
type Config struct {
	RootDir          string
	ServerURL        string
	CloudSyncEnabled bool
	MaxRecords       int

	SyncInterval      time.Duration
	FileSyncInterval  time.Duration
	FileSyncMode      string
	FileSyncBatch     int
	UploadConcurrency int
	SyncQueueSize     int
	FileSizeLimit     int64

	IndexMaxContentSize int
	IndexBloomTrustSize int
	IndexPersistDelay   time.Duration

	LogLevel string
	LogJSON  bool
}

// DefaultRoot is ~/.clipkeeper, or ./.clipkeeper when there is no home.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clipkeeper"
	}
	return filepath.Join(home, ".clipkeeper")
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.RootDir = DefaultRoot()
	c.ServerURL = "http://127.0.0.1:8080"
	c.CloudSyncEnabled = false
	c.MaxRecords = 1000

	c.SyncInterval = 60 * time.Second
	c.FileSyncInterval = 10 * time.Second
	c.FileSyncMode = ModeSingle
	c.FileSyncBatch = 10
	c.UploadConcurrency = 3
	c.SyncQueueSize = 256
	c.FileSizeLimit = 100 << 20

	c.IndexMaxContentSize = 1 << 20
	c.IndexBloomTrustSize = 64 << 10
	c.IndexPersistDelay = 2 * time.Second

	c.LogLevel = "info"
	c.LogJSON = false
}

func (c *Config) Layout() filex.Layout {
	return filex.Layout{Root: c.RootDir}
}

// SettingsPath is where Save writes by default.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Layout().ConfigDir(), "settings.json")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.RootDir == "" {
		errs = append(errs, errors.New("root_dir is empty"))
	}
	if u, err := url.Parse(c.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server_url %q is not an absolute URL", c.ServerURL))
	}
	if c.MaxRecords < 0 {
		errs = append(errs, errors.New("max_records must not be negative"))
	}
	if c.SyncInterval <= 0 {
		errs = append(errs, errors.New("sync_interval must be positive"))
	}
	if c.FileSyncInterval <= 0 {
		errs = append(errs, errors.New("file_sync_interval must be positive"))
	}
	if c.FileSyncMode != ModeSingle && c.FileSyncMode != ModeParallel {
		errs = append(errs, fmt.Errorf("file_sync_mode %q must be %q or %q", c.FileSyncMode, ModeSingle, ModeParallel))
	}
	if c.FileSyncBatch <= 0 {
		errs = append(errs, errors.New("file_sync_batch must be positive"))
	}
	if c.UploadConcurrency <= 0 {
		errs = append(errs, errors.New("upload_concurrency must be positive"))
	}
	if c.SyncQueueSize <= 0 {
		errs = append(errs, errors.New("sync_queue_size must be positive"))
	}
	if c.FileSizeLimit <= 0 {
		errs = append(errs, errors.New("file_size_limit must be positive"))
	}
	if c.IndexMaxContentSize < 0 || c.IndexBloomTrustSize < 0 {
		errs = append(errs, errors.New("index sizes must not be negative"))
	}
	if c.IndexPersistDelay <= 0 {
		errs = append(errs, errors.New("index_persist_delay must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return common.Wrap(common.KindConfig, "validate config", err)
	}
	return nil
}

// Load builds a Config from defaults, the settings file and the flags set
// in f. f may be nil.
func Load(f *Flags) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if f != nil {
		// the root decides where the default settings file lives
		f.applyRoot(cfg)
	}

	path, explicit := cfg.SettingsPath(), false
	if f != nil && f.ConfigPath != "" {
		path, explicit = f.ConfigPath, true
	}
	if err := parseJSON(cfg, path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, common.Wrap(common.KindConfig, "load settings", err)
		}
	}

	if f != nil {
		f.apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes c as JSON to path, replacing the file atomically.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return common.Wrap(common.KindIo, "save settings", err)
	}
	data, err := marshalJSON(c)
	if err != nil {
		return common.Wrap(common.KindSerialization, "save settings", err)
	}
	if err := filex.WriteFileAtomic(path, data, 0o600); err != nil {
		return common.Wrap(common.KindIo, "save settings", err)
	}
	return nil
}
