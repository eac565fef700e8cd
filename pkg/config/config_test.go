package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvRequiresDataDir(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	_, err := FromEnv()
	require.Error(t, err)
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/eventcore")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, SyncModeBatch, cfg.WalSyncMode)
	assert.Equal(t, 100, cfg.WalBatchN)
	assert.Equal(t, 32, cfg.PartitionCount)
	assert.Equal(t, int64(1<<20), cfg.MaxPayloadBytes)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/eventcore")
	t.Setenv("WAL_SYNC_MODE", "sync")
	t.Setenv("PARTITION_COUNT", "8")
	t.Setenv("MAX_PAYLOAD_BYTES", "2097152")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, SyncModeSync, cfg.WalSyncMode)
	assert.Equal(t, 8, cfg.PartitionCount)
	assert.Equal(t, int64(2097152), cfg.MaxPayloadBytes)
}

func TestFromEnvRejectsInvalidSyncMode(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/eventcore")
	t.Setenv("WAL_SYNC_MODE", "sometimes")
	_, err := FromEnv()
	require.Error(t, err)
}

func TestFromEnvRejectsNonPositivePartitionCount(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/eventcore")
	t.Setenv("PARTITION_COUNT", "0")
	_, err := FromEnv()
	require.Error(t, err)
}
