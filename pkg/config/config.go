// Package config reads the environment variables recognized by the event
// store core (spec §6) into a typed Config. There is no file-based config
// format: every knob the core needs is an environment variable with a
// documented default, in the same spirit as the teacher's Config structs
// passed into New* constructors, just sourced from the environment instead
// of a caller-built struct literal.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// SyncMode controls the WAL fsync policy (§4.2).
type SyncMode string

const (
	SyncModeSync  SyncMode = "sync"
	SyncModeBatch SyncMode = "batch"
	SyncModeAsync SyncMode = "async"
)

// Config holds every environment-derived setting the core reads at
// startup. Defaults match spec §4 and §6.
type Config struct {
	DataDir string

	WalSyncMode SyncMode
	WalBatchN   int
	WalBatchMs  int

	ColumnFlushRows  int
	ColumnFlushBytes int64
	ColumnFlushAgeMs int

	SnapshotThresholdEvents int
	SnapshotIntervalMs      int

	PartitionCount  int
	MaxPayloadBytes int64
}

// Default returns the documented default configuration, rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:                 dataDir,
		WalSyncMode:             SyncModeBatch, // see DESIGN.md: batch is the recommended default, not sync
		WalBatchN:               100,
		WalBatchMs:              5,
		ColumnFlushRows:         50_000,
		ColumnFlushBytes:        64 << 20,
		ColumnFlushAgeMs:        30_000,
		SnapshotThresholdEvents: 1000,
		SnapshotIntervalMs:      30 * 60 * 1000,
		PartitionCount:          32,
		MaxPayloadBytes:         1 << 20,
	}
}

// FromEnv builds a Config from the process environment, falling back to
// Default's values for anything unset. DATA_DIR is the only required
// variable.
func FromEnv() (*Config, error) {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		return nil, fmt.Errorf("config: DATA_DIR is required")
	}
	cfg := Default(dataDir)

	if v := os.Getenv("WAL_SYNC_MODE"); v != "" {
		switch SyncMode(v) {
		case SyncModeSync, SyncModeBatch, SyncModeAsync:
			cfg.WalSyncMode = SyncMode(v)
		default:
			return nil, fmt.Errorf("config: invalid WAL_SYNC_MODE %q", v)
		}
	}
	if err := intFromEnv("WAL_BATCH_N", &cfg.WalBatchN); err != nil {
		return nil, err
	}
	if err := intFromEnv("WAL_BATCH_MS", &cfg.WalBatchMs); err != nil {
		return nil, err
	}
	if err := intFromEnv("COLUMN_FLUSH_ROWS", &cfg.ColumnFlushRows); err != nil {
		return nil, err
	}
	if err := int64FromEnv("COLUMN_FLUSH_BYTES", &cfg.ColumnFlushBytes); err != nil {
		return nil, err
	}
	if err := intFromEnv("COLUMN_FLUSH_AGE_MS", &cfg.ColumnFlushAgeMs); err != nil {
		return nil, err
	}
	if err := intFromEnv("SNAPSHOT_THRESHOLD_EVENTS", &cfg.SnapshotThresholdEvents); err != nil {
		return nil, err
	}
	if err := intFromEnv("SNAPSHOT_INTERVAL_MS", &cfg.SnapshotIntervalMs); err != nil {
		return nil, err
	}
	if err := intFromEnv("PARTITION_COUNT", &cfg.PartitionCount); err != nil {
		return nil, err
	}
	if err := int64FromEnv("MAX_PAYLOAD_BYTES", &cfg.MaxPayloadBytes); err != nil {
		return nil, err
	}

	if cfg.PartitionCount <= 0 {
		return nil, fmt.Errorf("config: PARTITION_COUNT must be positive, got %d", cfg.PartitionCount)
	}
	return cfg, nil
}

func intFromEnv(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}

func int64FromEnv(name string, dst *int64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("config: invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}
