package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Duration unmarshals from "10s"-style strings or integer nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		d.Duration = time.Duration(x)
	case string:
		dur, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		d.Duration = dur
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// JsonConfig is a DTO used exclusively for the settings file. Pointer
// fields distinguish a missing key from a zero value.
type JsonConfig struct {
	RootDir          *string `json:"root_dir,omitempty"`
	ServerURL        *string `json:"server_url,omitempty"`
	CloudSyncEnabled *bool   `json:"cloud_sync_enabled,omitempty"`
	MaxRecords       *int    `json:"max_records,omitempty"`

	SyncInterval      *Duration `json:"sync_interval,omitempty"`
	FileSyncInterval  *Duration `json:"file_sync_interval,omitempty"`
	FileSyncMode      *string   `json:"file_sync_mode,omitempty"`
	FileSyncBatch     *int      `json:"file_sync_batch,omitempty"`
	UploadConcurrency *int      `json:"upload_concurrency,omitempty"`
	SyncQueueSize     *int      `json:"sync_queue_size,omitempty"`
	FileSizeLimit     *int64    `json:"file_size_limit,omitempty"`

	IndexMaxContentSize *int      `json:"index_max_content_size,omitempty"`
	IndexBloomTrustSize *int      `json:"index_bloom_trust_size,omitempty"`
	IndexPersistDelay   *Duration `json:"index_persist_delay,omitempty"`

	LogLevel *string `json:"log_level,omitempty"`
	LogJSON  *bool   `json:"log_json,omitempty"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *Duration) {
	if src != nil {
		*dst = src.Duration
	}
}

// parseJSON overlays cfg with the keys present in the file at path.
func parseJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	set(&cfg.RootDir, jc.RootDir)
	set(&cfg.ServerURL, jc.ServerURL)
	set(&cfg.CloudSyncEnabled, jc.CloudSyncEnabled)
	set(&cfg.MaxRecords, jc.MaxRecords)
	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	setDuration(&cfg.FileSyncInterval, jc.FileSyncInterval)
	set(&cfg.FileSyncMode, jc.FileSyncMode)
	set(&cfg.FileSyncBatch, jc.FileSyncBatch)
	set(&cfg.UploadConcurrency, jc.UploadConcurrency)
	set(&cfg.SyncQueueSize, jc.SyncQueueSize)
	set(&cfg.FileSizeLimit, jc.FileSizeLimit)
	set(&cfg.IndexMaxContentSize, jc.IndexMaxContentSize)
	set(&cfg.IndexBloomTrustSize, jc.IndexBloomTrustSize)
	setDuration(&cfg.IndexPersistDelay, jc.IndexPersistDelay)
	set(&cfg.LogLevel, jc.LogLevel)
	set(&cfg.LogJSON, jc.LogJSON)
	return nil
}

func marshalJSON(c *Config) ([]byte, error) {
	jc := JsonConfig{
		RootDir:             &c.RootDir,
		ServerURL:           &c.ServerURL,
		CloudSyncEnabled:    &c.CloudSyncEnabled,
		MaxRecords:          &c.MaxRecords,
		SyncInterval:        &Duration{c.SyncInterval},
		FileSyncInterval:    &Duration{c.FileSyncInterval},
		FileSyncMode:        &c.FileSyncMode,
		FileSyncBatch:       &c.FileSyncBatch,
		UploadConcurrency:   &c.UploadConcurrency,
		SyncQueueSize:       &c.SyncQueueSize,
		FileSizeLimit:       &c.FileSizeLimit,
		IndexMaxContentSize: &c.IndexMaxContentSize,
		IndexBloomTrustSize: &c.IndexBloomTrustSize,
		IndexPersistDelay:   &Duration{c.IndexPersistDelay},
		LogLevel:            &c.LogLevel,
		LogJSON:             &c.LogJSON,
	}
	return json.MarshalIndent(jc, "", "  ")
}
