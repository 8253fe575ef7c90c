// Package config loads runtime configuration for clipkeeper.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON settings file, selected with -c/--config and otherwise
//     <root>/config/settings.json when it exists.
//  3. Command-line flags (see RegisterFlags). Only flags that were actually
//     set override earlier values.
//
// # JSON schema
//
// Durations are either strings like "10s" or integer nanoseconds:
//
//	{
//	  "server_url": "https://sync.example.com",
//	  "cloud_sync_enabled": true,
//	  "max_records": 500,
//	  "sync_interval": "60s",
//	  "file_sync_interval": "10s",
//	  "file_sync_mode": "parallel"
//	}
//
// Keys missing from the file keep their default. Save writes every key.
package config
