// Package config loads the engine's configuration from a file and/or
// VSTORE_-prefixed environment variables, via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of knobs the engine needs at startup.
type Config struct {
	// BackupRoot is the directory holding current/, versions/,
	// dedup_store/, and catalog.db.
	BackupRoot string `mapstructure:"backup_root"`

	// KeyFilePath is where the envelope key material is stored.
	KeyFilePath string `mapstructure:"key_file_path"`

	// EncryptionMode is "raw" or "wrapped" (§4.B); an empty value disables
	// sealing of new blobs. Wrapped requires a password, supplied through
	// cmd/vstore-agent's -password flag, not stored in config.
	EncryptionMode string `mapstructure:"encryption_mode"`

	Dedup    bool `mapstructure:"dedup"`
	Compress bool `mapstructure:"compress"`

	// RetentionInterval and GCInterval are how often the agent runs its
	// background prune/gc sweeps. Zero disables the sweep; commands can
	// still be invoked on demand over the protocol.
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
	GCInterval        time.Duration `mapstructure:"gc_interval"`

	// MetricsAddr, if set, serves Prometheus metrics on this address.
	MetricsAddr string `mapstructure:"metrics_addr"`

	LogLevel string `mapstructure:"log_level"`
}

func defaults(v *viper.Viper) {
	// backup_root has no meaningful default value, but it still needs a
	// registered key: viper's AutomaticEnv only overlays env vars for
	// keys Unmarshal already knows about (via AllKeys()), so without
	// this, VSTORE_BACKUP_ROOT would silently never reach cfg.BackupRoot.
	v.SetDefault("backup_root", "")
	v.SetDefault("encryption_mode", "raw")
	v.SetDefault("dedup", true)
	v.SetDefault("compress", true)
	v.SetDefault("retention_interval", 24*time.Hour)
	v.SetDefault("gc_interval", 24*time.Hour)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("key_file_path", "")
}

// Load reads configFile (if non-empty and present) then overlays
// VSTORE_-prefixed environment variables, e.g. VSTORE_BACKUP_ROOT.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("VSTORE")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.KeyFilePath == "" && cfg.BackupRoot != "" {
		cfg.KeyFilePath = cfg.BackupRoot + "/key.json"
	}
	return &cfg, nil
}
