package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "raw", cfg.EncryptionMode)
	require.True(t, cfg.Dedup)
	require.True(t, cfg.Compress)
	require.Equal(t, 24*time.Hour, cfg.RetentionInterval)
	require.Equal(t, 24*time.Hour, cfg.GCInterval)
	require.Equal(t, "", cfg.MetricsAddr)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverlaysEnvironmentVariables(t *testing.T) {
	t.Setenv("VSTORE_BACKUP_ROOT", "/srv/backups")
	t.Setenv("VSTORE_ENCRYPTION_MODE", "wrapped")
	t.Setenv("VSTORE_DEDUP", "false")
	t.Setenv("VSTORE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "/srv/backups", cfg.BackupRoot)
	require.Equal(t, "wrapped", cfg.EncryptionMode)
	require.False(t, cfg.Dedup)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadDerivesKeyFilePathFromBackupRootWhenUnset(t *testing.T) {
	t.Setenv("VSTORE_BACKUP_ROOT", "/srv/backups")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/srv/backups/key.json", cfg.KeyFilePath)
}

func TestLoadRespectsExplicitKeyFilePathOverDerivation(t *testing.T) {
	t.Setenv("VSTORE_BACKUP_ROOT", "/srv/backups")
	t.Setenv("VSTORE_KEY_FILE_PATH", "/etc/vstore/master.key")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/etc/vstore/master.key", cfg.KeyFilePath)
}

func TestLoadMissingConfigFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/vstore.yaml")
	require.Error(t, err)
}
