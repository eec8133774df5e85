// Package config loads the replicator's configuration through a layered
// viper stack: project config file, then user config directory, then home
// directory, then environment variables. Command-line flags are not merged
// in: cmd/bd binds none of its flags into this configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be called
// once at application startup, before any Get* call.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// 1. Walk up from CWD to find project .replicator/config.yaml, so
	//    commands work from any subdirectory of a checkout.
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".replicator", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory (~/.config/replicator/config.yaml).
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "replicator", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// 3. Home directory (~/.replicator/config.yaml).
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".replicator", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("REPLICATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("json", false)
	v.SetDefault("db", "")
	v.SetDefault("lock-timeout", "30s")

	// Replication engine defaults.
	v.SetDefault("replication.local-replica-tag", "")
	v.SetDefault("replication.history-max", 50)
	v.SetDefault("replication.retry-max", 5)
	v.SetDefault("replication.tombstone-ttl", "720h") // 30 days

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// ConfigSource represents where a configuration value came from.
type ConfigSource string

const (
	SourceDefault    ConfigSource = "default"
	SourceConfigFile ConfigSource = "config_file"
	SourceEnvVar     ConfigSource = "env_var"
	SourceFlag       ConfigSource = "flag"
)

// GetValueSource returns the source of a configuration value. Priority
// (highest to lowest): env var > config file > default.
func GetValueSource(key string) ConfigSource {
	if v == nil {
		return SourceDefault
	}
	envKey := "REPLICATOR_" + strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(key, "-", "_"), ".", "_"))
	if os.Getenv(envKey) != "" {
		return SourceEnvVar
	}
	if v.InConfig(key) {
		return SourceConfigFile
	}
	return SourceDefault
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value, for tests and for flag-precedence
// wiring in cmd/bd.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// ReplicationConfig is the typed projection of the replication.* config
// keys, read once at engine construction time.
type ReplicationConfig struct {
	LocalReplicaTag string
	HistoryMax      int
	RetryMax        int
	TombstoneTTL    time.Duration
}

// LoadReplicationConfig reads the replication.* keys into a typed struct.
func LoadReplicationConfig() ReplicationConfig {
	return ReplicationConfig{
		LocalReplicaTag: GetString("replication.local-replica-tag"),
		HistoryMax:      GetInt("replication.history-max"),
		RetryMax:        GetInt("replication.retry-max"),
		TombstoneTTL:    GetDuration("replication.tombstone-ttl"),
	}
}
