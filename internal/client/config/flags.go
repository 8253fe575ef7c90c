package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Flags binds command-line flags to config overrides. Values are copied into
// a Config only for flags the user actually set.
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath string

	rootDir          string
	serverURL        string
	cloudSync        bool
	maxRecords       int
	syncInterval     time.Duration
	fileSyncInterval time.Duration
	fileSyncMode     string
	fileSyncBatch    int
	concurrency      int
	fileSizeLimit    int64
	logLevel         string
	logJSON          bool
}

// RegisterFlags adds the config flags to fs, typically the persistent flag
// set of the root command.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	var d Config
	d.LoadDefaults()

	f := &Flags{fs: fs}
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "path to settings file (default <root>/config/settings.json)")
	fs.StringVar(&f.rootDir, "root", d.RootDir, "data root directory")
	fs.StringVarP(&f.serverURL, "server", "s", d.ServerURL, "sync server base URL")
	fs.BoolVar(&f.cloudSync, "cloud-sync", d.CloudSyncEnabled, "enable cloud sync")
	fs.IntVar(&f.maxRecords, "max-records", d.MaxRecords, "history size, 0 keeps everything")
	fs.DurationVar(&f.syncInterval, "sync-interval", d.SyncInterval, "metadata sync interval")
	fs.DurationVar(&f.fileSyncInterval, "file-sync-interval", d.FileSyncInterval, "file transfer interval")
	fs.StringVar(&f.fileSyncMode, "file-sync-mode", d.FileSyncMode, "file transfer mode: single or parallel")
	fs.IntVar(&f.fileSyncBatch, "file-sync-batch", d.FileSyncBatch, "files per tick in parallel mode")
	fs.IntVar(&f.concurrency, "upload-concurrency", d.UploadConcurrency, "concurrent transfers in parallel mode")
	fs.Int64Var(&f.fileSizeLimit, "file-size-limit", d.FileSizeLimit, "largest file copied and uploaded, in bytes")
	fs.StringVar(&f.logLevel, "log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.BoolVar(&f.logJSON, "log-json", d.LogJSON, "write JSON logs")
	return f
}

func (f *Flags) changed(name string) bool {
	fl := f.fs.Lookup(name)
	return fl != nil && fl.Changed
}

func (f *Flags) applyRoot(cfg *Config) {
	if f.changed("root") {
		cfg.RootDir = f.rootDir
	}
}

func (f *Flags) apply(cfg *Config) {
	f.applyRoot(cfg)
	if f.changed("server") {
		cfg.ServerURL = f.serverURL
	}
	if f.changed("cloud-sync") {
		cfg.CloudSyncEnabled = f.cloudSync
	}
	if f.changed("max-records") {
		cfg.MaxRecords = f.maxRecords
	}
	if f.changed("sync-interval") {
		cfg.SyncInterval = f.syncInterval
	}
	if f.changed("file-sync-interval") {
		cfg.FileSyncInterval = f.fileSyncInterval
	}
	if f.changed("file-sync-mode") {
		cfg.FileSyncMode = f.fileSyncMode
	}
	if f.changed("file-sync-batch") {
		cfg.FileSyncBatch = f.fileSyncBatch
	}
	if f.changed("upload-concurrency") {
		cfg.UploadConcurrency = f.concurrency
	}
	if f.changed("file-size-limit") {
		cfg.FileSizeLimit = f.fileSizeLimit
	}
	if f.changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if f.changed("log-json") {
		cfg.LogJSON = f.logJSON
	}
}
