package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CONFIG_FILE", "DATA_DIR", "NAME_DB_PATH", "UPDATES_DIR", "INDEXES_DIR",
		"QUEUE_DEPTH", "QUEUE_PAYLOAD_CHUNK_KIB", "QUEUE_RECOVERY_SCAN", "QUEUE_SHUTDOWN_GRACE",
		"POOL_WORKERS", "POOL_CAPACITY", "SNAPSHOT_ENABLED", "SNAPSHOT_DIR", "SNAPSHOT_PERIOD",
		"MEILI_MASTER_KEY", "ENV", "LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Queue.Depth)
	assert.Equal(t, 4, cfg.Pool.Workers)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.False(t, cfg.Security.Production)
}

func TestLoadProductionRequiresMasterKey(t *testing.T) {
	clearEnv(t)
	os.Setenv("ENV", "production")
	defer os.Unsetenv("ENV")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadProductionWithMasterKey(t *testing.T) {
	clearEnv(t)
	os.Setenv("ENV", "production")
	os.Setenv("MEILI_MASTER_KEY", "a-very-long-master-key-value")
	defer clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Security.Production)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("QUEUE_DEPTH", "50")
	os.Setenv("DATA_DIR", "/tmp/ftsd-data")
	defer clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Queue.Depth)
	assert.Equal(t, "/tmp/ftsd-data", cfg.Data.Dir)
}
